package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/chatlink/internal/auth"
	"github.com/danmuck/chatlink/internal/devserver"
	"github.com/danmuck/chatlink/internal/message"
	logs "github.com/danmuck/smplog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type devServerFlags struct {
	tcpAddr  string
	httpAddr string
	channels []string
	apps     []string
	noAck    bool
}

func newDevServerCmd() *cobra.Command {
	var f devServerFlags
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local chat server speaking the tcp, hub and bridge transports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serveDev(ctx, cfg, f.tcpAddr, f.httpAddr)
		},
	}
	cmd.Flags().StringVar(&f.tcpAddr, "tcp-addr", "127.0.0.1:7440", "framed tcp listen address (empty disables)")
	cmd.Flags().StringVar(&f.httpAddr, "http-addr", "127.0.0.1:7441", "hub, bridge and health listen address (empty disables)")
	cmd.Flags().StringSliceVar(&f.channels, "channel", []string{"general"}, "channels offered on welcome")
	cmd.Flags().StringSliceVar(&f.apps, "app", nil, "accepted app credentials as id=secret (default accepts any)")
	cmd.Flags().BoolVar(&f.noAck, "no-auto-ack", false, "do not acknowledge ack-requested messages")
	return cmd
}

func (f devServerFlags) config() (devserver.Config, error) {
	cfg := devserver.DefaultConfig()
	cfg.DisableAutoAck = f.noAck
	if len(f.channels) > 0 {
		cfg.Channels = cfg.Channels[:0]
		for _, name := range f.channels {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			cfg.Channels = append(cfg.Channels, message.ChannelInfo{Name: name, Persistent: true})
		}
	}
	if len(f.apps) > 0 {
		reg := auth.Registry{}
		for _, pair := range f.apps {
			id, secret, ok := strings.Cut(pair, "=")
			if !ok || strings.TrimSpace(id) == "" {
				return devserver.Config{}, errors.New("--app expects id=secret")
			}
			reg[strings.TrimSpace(id)] = secret
		}
		cfg.Auth = reg
	}
	return cfg, nil
}

func serveDev(ctx context.Context, cfg devserver.Config, tcpAddr, httpAddr string) error {
	if tcpAddr == "" && httpAddr == "" {
		return errors.New("nothing to serve: both --tcp-addr and --http-addr are empty")
	}
	srv, err := devserver.New(cfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if tcpAddr != "" {
		ln, err := net.Listen("tcp", tcpAddr)
		if err != nil {
			return err
		}
		logs.Infof("devserver: tcp listening addr=%s", ln.Addr())
		g.Go(func() error { return srv.ServeTCP(ln) })
		g.Go(func() error {
			<-gctx.Done()
			return ln.Close()
		})
	}
	if httpAddr != "" {
		hs := &http.Server{Addr: httpAddr, Handler: srv.Router(), ReadHeaderTimeout: 5 * time.Second}
		logs.Infof("devserver: http listening addr=%s", httpAddr)
		g.Go(func() error {
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			srv.Goodbye("server shutting down", true)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}
	err = g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
