package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/chatlink/internal/bridge/wshost"
	"github.com/danmuck/chatlink/internal/chat"
	"github.com/danmuck/chatlink/internal/config"
	"github.com/danmuck/chatlink/internal/message"
	"github.com/danmuck/chatlink/internal/session"
	"github.com/danmuck/chatlink/internal/status"
	"github.com/danmuck/chatlink/internal/transport"
	"github.com/danmuck/chatlink/internal/transport/bridge"
	"github.com/danmuck/chatlink/internal/transport/hub"
	"github.com/danmuck/chatlink/internal/transport/tcp"
	logs "github.com/danmuck/smplog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "chatctl.toml"

func newConnectCmd() *cobra.Command {
	var (
		configPath    string
		backendName   string
		transportName string
		statusAddr    string
	)
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open a chat session and read commands from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if transportName != "" {
				cfg.Transport = strings.ToLower(transportName)
				cfg.Backend = ""
			}
			if backendName != "" {
				cfg.Backend = backendName
			}
			if statusAddr != "" {
				cfg.Status.Addr = statusAddr
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSession(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "client config file (.toml or .yaml)")
	cmd.Flags().StringVarP(&backendName, "backend", "b", "", "backend name from the config")
	cmd.Flags().StringVarP(&transportName, "transport", "t", "", "transport override (tcp|hub|bridge)")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "serve session status on this address")
	return cmd
}

// buildFactory returns the transport constructor for cfg.Transport.
func buildFactory(cfg config.ClientConfig) (transport.Factory, error) {
	switch cfg.Transport {
	case tcp.Name:
		return tcp.Factory(cfg.Dial), nil
	case hub.Name:
		return hub.Factory(cfg.Dial, cfg.Hub), nil
	case bridge.Name:
		hostCfg := cfg.Bridge
		hostCfg.Secure = cfg.Dial.TLS.Enabled
		if cfg.Dial.ConnectTimeout > 0 {
			hostCfg.DialTimeout = cfg.Dial.ConnectTimeout
		}
		host := wshost.New(hostCfg)
		return bridge.Factory(host, bridge.Config{Method: cfg.Hub.Method, Version: cfg.Hub.Version}), nil
	}
	return nil, fmt.Errorf("%w: %q", config.ErrUnknownTransport, cfg.Transport)
}

func runSession(ctx context.Context, cfg config.ClientConfig, in io.Reader, out, errOut io.Writer) error {
	backend, err := cfg.SelectBackend()
	if err != nil {
		return err
	}
	factory, err := buildFactory(cfg)
	if err != nil {
		return err
	}

	ctl := session.New(factory, cfg.Session)
	defer ctl.Close()
	if err := ctl.SetCredentials(cfg.Credentials); err != nil {
		return err
	}

	client := chat.NewClient(ctl, cfg.Channel)
	client.Follow(ctl)
	ctl.Dispatcher().SubscribeAll(func(m message.Message) {
		if line := chat.Format(m); line != "" {
			fmt.Fprintln(out, line)
		}
	})
	ctl.OnConnectionAccepted(func(channels []message.ChannelInfo) {
		names := make([]string, 0, len(channels))
		for _, ch := range channels {
			names = append(names, ch.Name)
		}
		fmt.Fprintf(out, "* connected as %s, channels: %s\n", ctl.DisplayID(), strings.Join(names, ", "))
		if client.Channel() == "" && len(names) > 0 {
			client.SetChannel(names[0])
		}
	})
	ctl.OnStateChange(func(from, to session.State) {
		logs.Debugf("chatctl: session %s -> %s", from, to)
		if to == session.StateReconnecting {
			fmt.Fprintln(out, "* connection lost, reconnecting")
		}
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := ctl.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if cfg.Status.Addr != "" {
		srv := status.New(cfg.Status.Addr, cfg.Status.CORSOrigins, ctl)
		g.Go(func() error { return srv.Serve(gctx) })
	}

	logs.Infof("chatctl: connecting transport=%s backend=%s addr=%s:%d", cfg.Transport, backend.Name, backend.Endpoint, backend.Port)
	if err := ctl.Connect(backend.Endpoint, backend.Port); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	g.Go(func() error {
		defer cancel()
		return readInput(gctx, in, client.Handle, errOut)
	})
	return g.Wait()
}

// readInput feeds each line to handle until EOF, /quit or ctx ends. Command
// errors are reported and do not end the loop.
func readInput(ctx context.Context, in io.Reader, handle func(context.Context, string) error, errOut io.Writer) error {
	scanned := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case scanned <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-scanned:
			switch strings.TrimSpace(line) {
			case "/quit", "/exit":
				return nil
			}
			if err := handle(ctx, line); err != nil {
				fmt.Fprintf(errOut, "! %v\n", err)
			}
		}
	}
}
