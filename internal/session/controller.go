// Package session keeps a chat connection alive across transport drops. The
// Controller owns the lifecycle state machine, the encrypted handshake, the
// ack tracker and the reconnect loop; transports only move frames.
//
// Network events are handled on the transport's goroutine under the
// controller mutex. Subscriber callbacks and lifecycle notifications are
// posted to a Pump and run when the owner calls Drain or Run.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/chatlink/internal/crypto"
	"github.com/danmuck/chatlink/internal/message"
	"github.com/danmuck/chatlink/internal/observability"
	"github.com/danmuck/chatlink/internal/transport"
	logs "github.com/danmuck/smplog"
)

type Option func(*Controller)

func WithKeyExchange(kx crypto.KeyExchange) Option {
	return func(c *Controller) {
		if kx != nil {
			c.kx = kx
		}
	}
}

func WithBackoff(b Backoff) Option {
	return func(c *Controller) {
		if b != nil {
			c.backoff = b
		}
	}
}

func WithProfile(p Profile) Option {
	return func(c *Controller) {
		c.profile = p
	}
}

// Snapshot is a point-in-time view of the controller for status reporting.
type Snapshot struct {
	Transport   string                `json:"transport"`
	State       string                `json:"state"`
	Epoch       string                `json:"epoch"`
	Endpoint    string                `json:"endpoint,omitempty"`
	Port        int                   `json:"port,omitempty"`
	DisplayID   string                `json:"display_id,omitempty"`
	Channels    []message.ChannelInfo `json:"channels,omitempty"`
	PendingAcks int                   `json:"pending_acks"`
}

type Controller struct {
	cfg       Config
	transport transport.Transport
	name      string
	codec     *message.Codec
	channel   *crypto.Channel
	kx        crypto.KeyExchange
	backoff   Backoff
	profile   Profile

	subs *Dispatcher
	acks *AckTracker
	pump *Pump

	ctx    context.Context
	cancel context.CancelFunc

	// attemptCancel aborts the dial belonging to the current epoch.
	attemptCancel context.CancelFunc

	mu              sync.Mutex
	state           State
	epoch           Epoch
	handshake       *Handshake
	creds           Credentials
	endpoint        string
	port            int
	canSend         bool
	shouldReconnect bool
	closed          bool
	attempt         int
	displayID       string
	channels        []message.ChannelInfo
	heartbeatStop   chan struct{}
	acceptedFns     []func([]message.ChannelInfo)
	stateFns        []func(from, to State)

	reconnecting atomic.Bool
}

// New builds a controller. build receives the codec bound to the session's
// symmetric channel and returns the transport to drive.
func New(build transport.Factory, cfg Config, opts ...Option) *Controller {
	cfg = cfg.WithDefaults()
	channel := crypto.NewChannel()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:             cfg,
		codec:           message.NewCodec(channel),
		channel:         channel,
		kx:              crypto.BoxKeyExchange{},
		backoff:         NewBackoff(cfg.Reconnect),
		profile:         DefaultProfile(),
		subs:            NewDispatcher(),
		acks:            NewAckTracker(),
		pump:            NewPump(),
		ctx:             ctx,
		cancel:          cancel,
		epoch:           NewEpoch(),
		shouldReconnect: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.transport = build(c.codec)
	c.name = c.transport.Name()
	c.handshake = NewHandshake(c.kx, channel, c.profile)
	return c
}

func (c *Controller) dispatcher() *Dispatcher { return c.subs }

func (c *Controller) Dispatcher() *Dispatcher { return c.subs }

func (c *Controller) Unsubscribe(id SubscriptionID) {
	c.subs.Unsubscribe(id)
}

// OnConnectionAccepted registers fn to run on the pump each time the server
// welcomes the session.
func (c *Controller) OnConnectionAccepted(fn func(channels []message.ChannelInfo)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acceptedFns = append(c.acceptedFns, fn)
}

// OnStateChange registers fn to run on the pump after every state change.
func (c *Controller) OnStateChange(fn func(from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateFns = append(c.stateFns, fn)
}

// SetCredentials stores the identity used by the next handshake.
func (c *Controller) SetCredentials(creds Credentials) error {
	creds.AppID = strings.TrimSpace(creds.AppID)
	if creds.AppID == "" {
		return ErrCredentialsRequired
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
	return nil
}

// SetUsername changes the display name. When the session is ready the change
// is sent to the server right away; otherwise it applies on the next handshake.
func (c *Controller) SetUsername(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidUsername
	}
	c.mu.Lock()
	c.creds.Username = name
	ready := c.readyLocked()
	c.mu.Unlock()
	if !ready {
		return nil
	}
	return c.Send(ctx, &message.SetUsername{Username: name})
}

// Connect starts a connection attempt and returns once it is under way.
func (c *Controller) Connect(endpoint string, port int) error {
	endpoint = strings.TrimSpace(endpoint)
	if err := transport.ValidateEndpoint(endpoint, port); err != nil {
		return fmt.Errorf("%w: %w", ErrEndpointRequired, err)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.creds.AppID == "" {
		c.mu.Unlock()
		return ErrCredentialsRequired
	}
	if c.state != StateDisconnected && c.state != StateReconnecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.endpoint, c.port = endpoint, port
	c.shouldReconnect = true
	epoch, ctx := c.startAttemptLocked()
	c.mu.Unlock()

	go c.dial(ctx, epoch, endpoint, port)
	return nil
}

// Disconnect tears down the connection. With allowReconnect the controller
// immediately schedules a new attempt; without it pending acks are dropped
// and the session settles in StateDisconnected.
func (c *Controller) Disconnect(allowReconnect bool) {
	if allowReconnect {
		c.Reconnect()
		return
	}
	c.mu.Lock()
	c.shouldReconnect = false
	c.mu.Unlock()
	c.teardown(StateDisconnected, true)
}

// Reconnect tears down the connection and dials the last endpoint again
// after the backoff delay. Concurrent calls collapse into one attempt.
func (c *Controller) Reconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		logs.Debugf("session.Controller reconnect already in progress transport=%s", c.name)
		return
	}
	c.mu.Lock()
	if c.closed || !c.shouldReconnect || c.endpoint == "" {
		c.mu.Unlock()
		c.reconnecting.Store(false)
		c.teardown(StateDisconnected, false)
		return
	}
	c.attempt++
	attempt := c.attempt
	endpoint, port := c.endpoint, c.port
	c.mu.Unlock()

	c.teardown(StateReconnecting, false)
	delay := c.backoff.Delay(attempt)
	observability.RecordReconnect(c.name)
	logs.Infof("session.Controller reconnecting transport=%s endpoint=%s:%d attempt=%d delay=%s", c.name, endpoint, port, attempt, delay)
	go c.reconnectAfter(delay)
}

func (c *Controller) reconnectAfter(delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		c.reconnecting.Store(false)
		return
	case <-timer.C:
	}

	c.mu.Lock()
	if c.closed || !c.shouldReconnect || c.state != StateReconnecting {
		c.mu.Unlock()
		c.reconnecting.Store(false)
		return
	}
	endpoint, port := c.endpoint, c.port
	epoch, ctx := c.startAttemptLocked()
	c.mu.Unlock()
	c.reconnecting.Store(false)
	c.dial(ctx, epoch, endpoint, port)
}

// Close stops the controller for good. Queued pump work can still be drained.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.shouldReconnect = false
	c.mu.Unlock()
	c.teardown(StateDisconnected, false)
	c.cancel()
	return nil
}

// Drain runs queued callbacks on the caller's goroutine.
func (c *Controller) Drain() int {
	return c.pump.Drain()
}

// Run drains callbacks until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	return c.pump.Run(ctx)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Epoch() Epoch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *Controller) DisplayID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayID
}

func (c *Controller) Channels() []message.ChannelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneChannels(c.channels)
}

func (c *Controller) PendingAcks() []PendingAck {
	return c.acks.Pending()
}

func (c *Controller) TransportName() string {
	return c.name
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Transport:   c.name,
		State:       c.state.String(),
		Epoch:       c.epoch.String(),
		Endpoint:    c.endpoint,
		Port:        c.port,
		DisplayID:   c.displayID,
		Channels:    cloneChannels(c.channels),
		PendingAcks: c.acks.Len(),
	}
}

// startAttemptLocked mints the epoch for a new dial and the context that
// teardown cancels to abandon it.
func (c *Controller) startAttemptLocked() (Epoch, context.Context) {
	c.cancelAttemptLocked()
	ctx, cancel := context.WithCancel(c.ctx)
	c.attemptCancel = cancel
	c.epoch = NewEpoch()
	c.canSend = false
	c.handshake.Begin(c.creds)
	c.setStateLocked(StateConnecting)
	return c.epoch, ctx
}

func (c *Controller) cancelAttemptLocked() {
	if c.attemptCancel != nil {
		c.attemptCancel()
		c.attemptCancel = nil
	}
}

func (c *Controller) dial(ctx context.Context, epoch Epoch, endpoint string, port int) {
	logs.Infof("session.Controller connecting transport=%s endpoint=%s:%d epoch=%s", c.name, endpoint, port, epoch)
	if err := c.transport.Connect(ctx, endpoint, port, c.handlerFor(epoch)); err != nil {
		if ctx.Err() != nil {
			logs.Debugf("session.Controller dial abandoned transport=%s epoch=%s err=%v", c.name, epoch, err)
			return
		}
		logs.Warnf("session.Controller connect failed transport=%s endpoint=%s:%d err=%v", c.name, endpoint, port, err)
		c.connectionLost(epoch, err)
	}
}

func (c *Controller) teardown(next State, clearAcks bool) {
	c.mu.Lock()
	c.canSend = false
	c.cancelAttemptLocked()
	c.epoch = NewEpoch()
	c.stopHeartbeatLocked()
	c.setStateLocked(next)
	cleared := 0
	if clearAcks {
		cleared = c.acks.Clear()
	}
	c.mu.Unlock()

	if cleared > 0 {
		logs.Infof("session.Controller dropped %d unacknowledged messages", cleared)
		c.publishPending()
	}
	if err := c.transport.Disconnect(); err != nil {
		logs.Debugf("session.Controller transport disconnect transport=%s err=%v", c.name, err)
	}
}

func (c *Controller) handlerFor(epoch Epoch) transport.Handler {
	return func(ev transport.Event) {
		if !c.isCurrent(epoch) {
			logs.Debugf("session.Controller stale %s event epoch=%s", ev.Type, epoch)
			return
		}
		switch ev.Type {
		case transport.EventConnected:
			c.connected(epoch)
		case transport.EventMessage:
			c.receive(epoch, ev.Message)
		case transport.EventDecodeError:
			observability.RecordDecodeFailure(c.name)
			logs.Warnf("session.Controller dropped undecodable payload transport=%s len=%d err=%v", c.name, len(ev.Raw), ev.Err)
		case transport.EventDisconnected:
			c.connectionLost(epoch, ev.Err)
		}
	}
}

func (c *Controller) connected(epoch Epoch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch || c.state != StateConnecting {
		return
	}
	c.setStateLocked(StateAwaitingHandshake)
}

func (c *Controller) connectionLost(epoch Epoch, err error) {
	c.mu.Lock()
	if epoch != c.epoch || c.closed {
		c.mu.Unlock()
		return
	}
	c.canSend = false
	c.stopHeartbeatLocked()
	if !c.shouldReconnect {
		c.epoch = NewEpoch()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		logs.Infof("session.Controller disconnected transport=%s err=%v", c.name, err)
		return
	}
	c.mu.Unlock()
	logs.Infof("session.Controller connection lost, reconnecting transport=%s err=%v", c.name, err)
	c.Reconnect()
}

func (c *Controller) receive(epoch Epoch, m message.Message) {
	if m == nil {
		return
	}
	kind := m.Kind()
	observability.RecordReceived(c.name, kind.String())
	c.post(m)

	switch msg := m.(type) {
	case *message.Ack:
		c.acks.Acknowledge(msg.AckedID)
		c.publishPending()
	case *message.Goodbye:
		logs.Warnf("session.Controller server goodbye reason=%q reconnect=%t", msg.Reason, msg.AllowAutoReconnect)
		if msg.AllowAutoReconnect {
			c.Reconnect()
		} else {
			c.Disconnect(false)
		}
	case *message.UserInfoResponse:
		logs.Infof("session.Controller user info success=%t username=%s display_id=%s", msg.Success, msg.Username, msg.DisplayID)
		c.post(userInfoNotice(msg))
	case *message.SetUsernameResponse:
		if !msg.Success {
			logs.Warnf("session.Controller username change rejected reason=%q", msg.Reason)
			return
		}
		c.mu.Lock()
		c.creds.Username = msg.Username
		if msg.DisplayID != "" {
			c.displayID = msg.DisplayID
		}
		c.mu.Unlock()
		logs.Infof("session.Controller username changed username=%s display_id=%s", msg.Username, msg.DisplayID)
	default:
		if IsHandshakeMessage(kind) {
			c.advanceHandshake(epoch, m)
		}
	}
}

func (c *Controller) advanceHandshake(epoch Epoch, m message.Message) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	step, err := c.handshake.Handle(m)
	stage := c.handshake.Stage()
	if err != nil {
		c.mu.Unlock()
		logs.Errorf(err, "session.Controller handshake failed kind=%s", m.Kind())
		c.Reconnect()
		return
	}
	if !step.InSequence {
		c.mu.Unlock()
		logs.Warnf("session.Controller out-of-sequence handshake message kind=%s stage=%s", m.Kind(), stage)
		return
	}
	if !step.Completed {
		c.mu.Unlock()
		if step.Reply != nil {
			c.transmit(epoch, step.Reply, step.Encrypt)
		}
		return
	}

	c.canSend = true
	c.attempt = 0
	c.displayID = step.Welcome.DisplayID
	c.channels = cloneChannels(step.Welcome.Channels)
	c.setStateLocked(StateReady)
	c.startHeartbeatLocked(epoch)
	channels := cloneChannels(c.channels)
	fns := append([]func([]message.ChannelInfo){}, c.acceptedFns...)
	c.mu.Unlock()

	logs.Infof("session.Controller connection accepted transport=%s display_id=%s channels=%d", c.name, step.Welcome.DisplayID, len(channels))
	if n := c.acks.FlushInOrder(func(pending message.Message) bool {
		return c.transmit(epoch, pending, true)
	}); n > 0 {
		logs.Infof("session.Controller replayed %d unacknowledged messages", n)
	}
	if len(fns) > 0 {
		c.pump.Post(func() {
			for _, fn := range fns {
				fn(cloneChannels(channels))
			}
		})
	}
}

// Send validates m and hands it to the transport. While the session is not
// ready it polls every SendRetryInterval up to SendMaxRetries times. Messages
// that requested an ack are parked for replay instead of failing; messages
// bound to the current connection are discarded when it goes away.
func (c *Controller) Send(ctx context.Context, m message.Message) error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if err := message.Validate(m); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	message.EnsureID(m)
	kind := m.Kind()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	epoch := c.epoch
	ready := c.readyLocked()
	c.mu.Unlock()

	switch {
	case message.IsHandshakeReply(kind):
		c.transmit(epoch, m, kind != message.KindEncryptedSymmetricKey)
		return nil
	case ready:
		return c.deliver(epoch, m)
	case message.IsHeartbeat(kind):
		return nil
	}

	start := time.Now()
	timer := time.NewTimer(c.cfg.SendRetryInterval)
	defer timer.Stop()
	for retries := 1; ; retries++ {
		select {
		case <-ctx.Done():
			c.recordWait("canceled", start)
			return ctx.Err()
		case <-timer.C:
		}

		c.mu.Lock()
		closed := c.closed
		current := c.epoch
		ready := c.readyLocked()
		c.mu.Unlock()

		switch {
		case closed:
			return ErrClosed
		case current != epoch:
			c.recordWait("epoch_changed", start)
			return c.abandon(m, ErrEpochChanged)
		case ready:
			c.recordWait("sent", start)
			return c.deliver(epoch, m)
		case retries >= c.cfg.SendMaxRetries:
			c.recordWait("exhausted", start)
			logs.Warnf("session.Controller connection failed, reconnecting kind=%s retries=%d", kind, retries)
			c.Reconnect()
			return c.abandon(m, ErrNotReady)
		}
		logs.Debugf("session.Controller waiting to send kind=%s retry=%d", kind, retries)
		timer.Reset(c.cfg.SendRetryInterval)
	}
}

func (c *Controller) deliver(epoch Epoch, m message.Message) error {
	if !c.isCurrent(epoch) {
		return c.abandon(m, ErrEpochChanged)
	}
	tracked := !message.IsHeartbeat(m.Kind()) && c.acks.Track(m)
	if tracked {
		c.publishPending()
	}
	if !c.transmit(epoch, m, true) && !tracked {
		return ErrNotReady
	}
	return nil
}

func (c *Controller) abandon(m message.Message, reason error) error {
	kind := m.Kind()
	switch {
	case message.IsEpochBound(kind):
		logs.Warnf("session.Controller connection resetting, discarding kind=%s id=%s", kind, m.MessageID())
		return nil
	case m.IsAckRequested():
		c.acks.Track(m)
		c.publishPending()
		logs.Infof("session.Controller parked kind=%s id=%s for replay", kind, m.MessageID())
		return nil
	}
	return reason
}

// transmit writes m on the connection for epoch. A closed connection
// triggers a reconnect.
func (c *Controller) transmit(epoch Epoch, m message.Message, encrypt bool) bool {
	if !c.isCurrent(epoch) {
		return false
	}
	ok := c.transport.Send(m, encrypt)
	observability.RecordSent(c.name, m.Kind().String(), ok)
	if !ok {
		logs.Warnf("session.Controller send failed, reconnecting transport=%s kind=%s", c.name, m.Kind())
		c.Reconnect()
	}
	return ok
}

func (c *Controller) startHeartbeatLocked(epoch Epoch) {
	c.stopHeartbeatLocked()
	stop := make(chan struct{})
	c.heartbeatStop = stop
	interval := c.cfg.HeartbeatInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				if !c.isCurrent(epoch) {
					return
				}
				if err := c.Send(c.ctx, &message.Heartbeat{}); err != nil {
					logs.Debugf("session.Controller heartbeat err=%v", err)
				}
			}
		}
	}()
}

func (c *Controller) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

func (c *Controller) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	observability.RecordStateTransition(c.name, from.String(), to.String())
	logs.Debugf("session.Controller state %s -> %s transport=%s epoch=%s", from, to, c.name, c.epoch)
	if len(c.stateFns) == 0 {
		return
	}
	fns := append([]func(from, to State){}, c.stateFns...)
	c.pump.Post(func() {
		for _, fn := range fns {
			fn(from, to)
		}
	})
}

func (c *Controller) readyLocked() bool {
	return c.state == StateReady && c.canSend && c.transport.Connected()
}

func (c *Controller) isCurrent(epoch Epoch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return epoch == c.epoch
}

func (c *Controller) post(m message.Message) {
	c.pump.Post(func() {
		c.subs.Dispatch(m)
	})
}

func (c *Controller) publishPending() {
	observability.SetPendingAcks(c.name, c.acks.Len())
}

func (c *Controller) recordWait(outcome string, start time.Time) {
	observability.RecordSendWait(c.name, outcome, time.Since(start))
}

func userInfoNotice(resp *message.UserInfoResponse) *message.Whisper {
	content := resp.Reason
	if resp.Success {
		content = fmt.Sprintf("= User Info =\nUsername: %s\nDisplayId: %s", resp.Username, resp.DisplayID)
	}
	w := &message.Whisper{
		From:    message.SystemUser,
		To:      message.User{Name: resp.Username, DisplayID: resp.DisplayID},
		Content: content,
		SentAt:  time.Now().UTC(),
	}
	message.EnsureID(w)
	return w
}

func cloneChannels(in []message.ChannelInfo) []message.ChannelInfo {
	if len(in) == 0 {
		return nil
	}
	out := make([]message.ChannelInfo, len(in))
	copy(out, in)
	return out
}
