// Package session drives one proxy session from discovery to close.
//
// A Coordinator owns the session state on a single loop goroutine. Callers
// and notification callbacks post closures onto the loop; the loop is the
// only writer of state, token, and channel list. Progress is published as
// Events to any number of subscribers.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"sxs-link/internal/command"
	"sxs-link/internal/config"
	"sxs-link/internal/directory"
	"sxs-link/internal/discovery"
	"sxs-link/internal/protocol"
	"sxs-link/internal/realtime"

	"github.com/rs/zerolog/log"
)

var (
	ErrMissingAPIKey = errors.New("session: missing API key")
	ErrNotConnected  = errors.New("session: not connected")
	ErrNotJoined     = errors.New("session: no color channel joined")
	ErrTerminated    = errors.New("session: terminated")
)

// Reason recorded when the session is stopped before the channel opened.
const cancelledReason = "cancelled"

// Locator finds the proxy endpoint.
type Locator interface {
	Locate(ctx context.Context, basePort, maxAttempts int) (discovery.Endpoint, error)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLocator replaces the port scanner.
func WithLocator(l Locator) Option {
	return func(c *Coordinator) { c.locator = l }
}

// WithHTTPClient sets the client used for command traffic.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Coordinator) { c.httpClient = client }
}

// WithProbeClient sets the client used by the default port scanner.
func WithProbeClient(client *http.Client) Option {
	return func(c *Coordinator) { c.probeClient = client }
}

// WithChannelOptions passes options to the notification channel.
func WithChannelOptions(opts ...realtime.Option) Option {
	return func(c *Coordinator) { c.channelOpts = append(c.channelOpts, opts...) }
}

// WithHistory sets how many events late subscribers can replay.
func WithHistory(capacity int) Option {
	return func(c *Coordinator) { c.bus = newBus(capacity) }
}

// Coordinator runs the connection lifecycle of a single session.
type Coordinator struct {
	cfg         config.Config
	locator     Locator
	httpClient  *http.Client
	probeClient *http.Client
	channelOpts []realtime.Option
	bus         *bus

	inbox     chan func()
	done      chan struct{}
	startOnce sync.Once
	cancel    context.CancelFunc

	// Loop-owned. Writes happen on the loop goroutine under mu so that
	// readers on other goroutines see a consistent copy.
	mu       sync.RWMutex
	state    State
	sess     Session
	channels []protocol.ColorChannel
	joined   string
	actions  bool
	failure  error

	cmd  *command.Client
	dir  *directory.Directory
	conn *realtime.Channel
}

// New creates a coordinator in StateDisconnected. Nothing happens until
// Start.
func New(cfg config.Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:   cfg,
		inbox: make(chan func()),
		done:  make(chan struct{}),
		state: StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.bus == nil {
		c.bus = newBus(defaultHistoryCapacity)
	}
	if c.httpClient == nil {
		c.httpClient = command.NewHTTPClient(cfg.CommandTimeout)
	}
	if c.probeClient == nil {
		c.probeClient = discovery.NewProbeClient(cfg.ProbeTimeout)
	}
	if c.locator == nil {
		l := discovery.NewLocator(cfg.Host, c.probeClient)
		l.OnProbe = func(port int) {
			c.status(fmt.Sprintf("Connecting on port %d", port))
		}
		c.locator = l
	}
	return c
}

// Start launches the loop and begins discovery. It returns immediately.
// Cancelling ctx closes the session.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)
		go c.run(ctx)
		c.post(func() { c.establish(ctx) })
	})
}

// Close ends the session and waits for the loop to exit.
func (c *Coordinator) Close() {
	started := true
	c.startOnce.Do(func() {
		started = false
		c.setState(StateClosed)
		c.bus.close()
		close(c.done)
	})
	if started {
		c.cancel()
		<-c.done
	}
}

// Done is closed once the session reaches a terminal state.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the cause of a failed session, or nil.
func (c *Coordinator) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failure
}

// State returns the current connection state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Channels returns the most recent channel listing.
func (c *Coordinator) Channels() []protocol.ColorChannel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]protocol.ColorChannel(nil), c.channels...)
}

// Snapshot returns a copy of the session state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		State:    c.state,
		Session:  c.sess,
		Channels: append([]protocol.ColorChannel(nil), c.channels...),
		Joined:   c.joined,
	}
}

// Subscribe returns a subscription id, a channel of future events, and the
// buffered history. The channel is closed when the session ends.
func (c *Coordinator) Subscribe() (string, <-chan Event, []Event) {
	return c.bus.subscribe()
}

// Unsubscribe ends a subscription.
func (c *Coordinator) Unsubscribe(id string) {
	c.bus.unsubscribe(id)
}

// PublishWatchlist announces the RICs currently offered for sending.
func (c *Coordinator) PublishWatchlist(rics []string) {
	c.bus.publish(Event{Type: EventWatchlist, Watchlist: append([]string(nil), rics...)})
}

// Join asks the proxy to link the session to channelID.
func (c *Coordinator) Join(ctx context.Context, channelID string) error {
	return c.call(ctx, func() error { return c.join(ctx, channelID) })
}

// SendContext publishes ric to the joined color channel.
func (c *Coordinator) SendContext(ctx context.Context, ric string) error {
	return c.call(ctx, func() error { return c.sendContext(ctx, ric) })
}

func (c *Coordinator) run(ctx context.Context) {
	defer func() {
		if c.dir != nil {
			c.dir.Close()
		}
		c.bus.close()
		close(c.done)
	}()

	stop := ctx.Done()
	for !c.State().Terminal() {
		select {
		case fn := <-c.inbox:
			fn()
		case <-stop:
			stop = nil
			c.shutdown()
		}
	}
}

// post queues fn on the loop. It reports false once the loop has exited.
func (c *Coordinator) post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.done:
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (c *Coordinator) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	queued := make(chan bool, 1)
	go func() { queued <- c.post(func() { reply <- fn() }) }()

	select {
	case err := <-reply:
		return err
	case ok := <-queued:
		if !ok {
			return ErrTerminated
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrTerminated
		}
	}
}

// establish runs discovery, handshake, and opens the notification channel.
func (c *Coordinator) establish(ctx context.Context) {
	if c.cfg.APIKey == "" {
		c.fail(ErrMissingAPIKey, fmt.Sprintf("missing API key: set %s", config.EnvAPIKey))
		return
	}

	c.transition(StatePortScanning)
	ep, err := c.locator.Locate(ctx, c.cfg.BasePort, c.cfg.MaxAttempts)
	if err != nil {
		if ctx.Err() != nil {
			c.closed(cancelledReason)
			return
		}
		if errors.Is(err, discovery.ErrNotFound) {
			c.fail(err, "proxy not running")
			return
		}
		c.fail(err, err.Error())
		return
	}

	c.mu.Lock()
	c.sess = Session{ProxyBaseURL: ep.BaseURL, NotificationURL: ep.NotificationURL}
	c.mu.Unlock()
	c.status(fmt.Sprintf("Proxy found on port %d", ep.Port))

	c.cmd = command.New(ep.BaseURL, c.httpClient)
	c.dir = directory.New(c.cmd, c.cfg.ChannelTTL)

	c.transition(StateHandshakePending)
	token, err := c.cmd.Handshake(ctx, c.cfg.ProductID, c.cfg.APIKey)
	if err != nil {
		if ctx.Err() != nil {
			c.closed(cancelledReason)
			return
		}
		var rej *command.RejectionError
		if errors.As(err, &rej) {
			log.Warn().Str("reason", rej.Message).Msg("handshake rejected")
			c.status("Handshake rejected: " + rej.Message)
			c.mu.Lock()
			c.failure = err
			c.mu.Unlock()
			c.transition(StateFailed)
			return
		}
		c.fail(err, "handshake failed: "+err.Error())
		return
	}

	c.mu.Lock()
	c.sess.Token = token
	c.mu.Unlock()
	c.status("Session established")

	c.transition(StateWebSocketConnecting)
	c.conn = realtime.NewChannel(realtime.Handlers{
		OnOpen:    func() { c.post(func() { c.opened(ctx) }) },
		OnClose:   func(reason string) { c.post(func() { c.closed(reason) }) },
		OnMessage: func(data []byte) { c.post(func() { c.received(data) }) },
		OnError: func(err error) {
			c.post(func() { c.fail(err, "notification channel failed: "+err.Error()) })
		},
	}, c.channelOpts...)
	if err := c.conn.Open(ep.NotificationURL, token, c.cfg.LinkType); err != nil {
		c.fail(err, err.Error())
	}
}

// opened lists channels exactly once, now that push delivery is bound to
// the socket. A rejected listing is reported; a dead transport fails the
// session.
func (c *Coordinator) opened(ctx context.Context) {
	c.status("Notification channel opened")

	channels, err := c.dir.List(ctx, c.token())
	if err != nil {
		if command.IsFatal(err) && ctx.Err() == nil {
			c.fail(err, "channel list failed: "+err.Error())
			return
		}
		log.Warn().Err(err).Msg("channel list failed")
		c.status("Could not list color channels: " + err.Error())
		return
	}

	c.mu.Lock()
	c.channels = channels
	c.mu.Unlock()
	c.bus.publish(Event{Type: EventChannels, Channels: append([]protocol.ColorChannel(nil), channels...)})
}

// received dispatches one inbound notification. Bad payloads are reported
// and the socket stays open.
func (c *Coordinator) received(data []byte) {
	n, err := protocol.ParseNotification(data)
	if err != nil {
		log.Warn().Err(err).Msg("malformed notification")
		c.status("Ignored malformed notification: " + err.Error())
		return
	}

	switch n.Command {
	case protocol.CommandContextReceived:
		c.status("Received: " + string(data))
		payload, err := n.DecodeContext()
		if err != nil {
			log.Warn().Err(err).Msg("malformed context")
			c.status("Ignored malformed context: " + err.Error())
			return
		}
		first, ok := payload.First()
		if !ok {
			c.status("Received context without entities")
			return
		}
		c.bus.publish(Event{
			Type:     EventContext,
			RIC:      first.Value,
			Entities: append([]protocol.Entity(nil), payload.Entities...),
		})
	default:
		log.Debug().Str("command", n.Command).Msg("ignoring notification")
	}
}

// closed handles the end of the notification channel.
func (c *Coordinator) closed(reason string) {
	if reason == "" {
		reason = realtime.UnknownReason
	}

	c.mu.Lock()
	c.sess.Token = ""
	c.mu.Unlock()
	c.setActions(false)
	c.status("Notification channel closed: " + reason)
	c.transition(StateClosed)
}

func (c *Coordinator) join(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	token := c.token()
	if token == "" || c.dir == nil {
		c.status("Not connected")
		return ErrNotConnected
	}

	if err := c.dir.Join(ctx, token, channelID); err != nil {
		if ctx.Err() != nil {
			return err
		}
		if command.IsFatal(err) {
			c.fail(err, "join failed: "+err.Error())
			return err
		}
		c.status("Join failed: " + rejectionMessage(err))
		return err
	}

	c.mu.Lock()
	c.joined = channelID
	c.mu.Unlock()
	c.transition(StateJoined)
	c.setActions(true)

	label, ok := c.dir.Label(channelID)
	if !ok {
		label = channelID
	}
	c.status(fmt.Sprintf("Joined color channel %s (%s)", label, channelID))
	return nil
}

func (c *Coordinator) sendContext(ctx context.Context, ric string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.State() != StateJoined {
		c.status("Join a color channel before sending context")
		return ErrNotJoined
	}

	if err := c.cmd.SendContext(ctx, c.token(), ric); err != nil {
		switch {
		case ctx.Err() != nil:
		case errors.Is(err, protocol.ErrEmptyReference):
			c.status("Nothing to send")
		case command.IsFatal(err):
			c.fail(err, "send failed: "+err.Error())
		default:
			c.status("Send failed: " + rejectionMessage(err))
		}
		return err
	}

	c.status("Sent context " + ric)
	return nil
}

// shutdown stops the session on request. With a live channel the close is
// reported through its OnClose callback.
func (c *Coordinator) shutdown() {
	if c.conn != nil {
		go c.conn.Close()
		return
	}
	c.closed(cancelledReason)
}

// fail reports an unrecoverable error and ends the session.
func (c *Coordinator) fail(err error, message string) {
	log.Error().Err(err).Msg(message)

	c.mu.Lock()
	c.failure = err
	c.sess.Token = ""
	c.mu.Unlock()

	c.bus.publish(Event{Type: EventFatal, Message: message})
	c.setActions(false)
	c.transition(StateFailed)

	if c.conn != nil {
		go c.conn.Close()
	}
}

func (c *Coordinator) transition(to State) {
	c.mu.Lock()
	from := c.state
	if !CanTransition(from, to) {
		c.mu.Unlock()
		log.Warn().Str("from", string(from)).Str("to", string(to)).Msg("invalid state transition ignored")
		return
	}
	c.state = to
	c.mu.Unlock()

	if from == to {
		return
	}
	log.Info().Str("from", string(from)).Str("to", string(to)).Msg("state changed")
	c.bus.publish(Event{Type: EventState, State: to})
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Coordinator) setActions(enabled bool) {
	c.mu.Lock()
	changed := c.actions != enabled
	c.actions = enabled
	c.mu.Unlock()
	if changed {
		c.bus.publish(Event{Type: EventActions, Enabled: enabled})
	}
}

func (c *Coordinator) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess.Token
}

func (c *Coordinator) status(message string) {
	log.Debug().Msg(message)
	c.bus.publish(Event{Type: EventStatus, Message: message})
}

func rejectionMessage(err error) string {
	var rej *command.RejectionError
	if errors.As(err, &rej) {
		return rej.Message
	}
	return err.Error()
}
