// Package realtime manages the proxy's push-notification WebSocket.
package realtime

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	pingInterval     = 30 * time.Second
	readDeadline     = 60 * time.Second
	writeDeadline    = 10 * time.Second
	handshakeTimeout = 10 * time.Second

	// UnknownReason is reported when a close event carries no reason text.
	UnknownReason = "unknown"
	// ClientCloseReason is reported when Close ends the channel.
	ClientCloseReason = "closed by client"
)

var (
	ErrDial          = errors.New("realtime: dial failed")
	ErrRemoteClosed  = errors.New("realtime: closed by remote")
	ErrAlreadyOpened = errors.New("realtime: channel already opened")
)

// State is the lifecycle state of a Channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosed       State = "closed"
)

// Handlers are invoked on transport goroutines. OnOpen fires before any
// OnMessage; OnClose fires at most once; OnError reports a failed dial and is
// followed by nothing else.
type Handlers struct {
	OnOpen    func()
	OnClose   func(reason string)
	OnMessage func(data []byte)
	OnError   func(err error)
}

func (h *Handlers) fillDefaults() {
	if h.OnOpen == nil {
		h.OnOpen = func() {}
	}
	if h.OnClose == nil {
		h.OnClose = func(string) {}
	}
	if h.OnMessage == nil {
		h.OnMessage = func([]byte) {}
	}
	if h.OnError == nil {
		h.OnError = func(error) {}
	}
}

// Option configures a Channel.
type Option func(*Channel)

// WithDialer replaces the default WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// WithPingInterval overrides the keepalive interval.
func WithPingInterval(d time.Duration) Option {
	return func(c *Channel) { c.pingInterval = d }
}

// Channel is a single-use notification socket: once closed it stays closed.
type Channel struct {
	handlers     Handlers
	dialer       *websocket.Dialer
	pingInterval time.Duration

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	reason    string
	done      chan struct{}
	closeOnce sync.Once
}

// NewChannel creates a disconnected channel.
func NewChannel(h Handlers, opts ...Option) *Channel {
	h.fillDefaults()
	c := &Channel{
		handlers:     h,
		dialer:       &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		pingInterval: pingInterval,
		state:        StateDisconnected,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildURL appends the session token and link type to the notification URL.
func BuildURL(notificationURL, token string, linkType int) string {
	sep := "?"
	if strings.Contains(notificationURL, "?") {
		sep = "&"
	}
	return notificationURL + sep + "sessionToken=" + url.QueryEscape(token) + "&linkType=" + strconv.Itoa(linkType)
}

// Open starts connecting in the background and returns immediately.
func (c *Channel) Open(notificationURL, token string, linkType int) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyOpened
	}
	c.state = StateConnecting
	c.mu.Unlock()

	go c.connect(BuildURL(notificationURL, token, linkType))
	return nil
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reason returns the recorded close reason, empty while not closed.
func (c *Channel) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Done is closed once the channel reaches StateClosed.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close ends the channel from the client side.
func (c *Channel) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeDeadline))
	}
	c.finish(ClientCloseReason)
}

func (c *Channel) connect(wsURL string) {
	conn, resp, err := c.dialer.Dial(wsURL, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w: %v (HTTP %d)", ErrDial, err, resp.StatusCode)
		} else {
			err = fmt.Errorf("%w: %v", ErrDial, err)
		}
		log.Warn().Err(err).Msg("notification channel dial failed")

		c.mu.Lock()
		wasClosed := c.state == StateClosed
		c.mu.Unlock()
		if !wasClosed {
			c.closeOnce.Do(func() {
				c.mu.Lock()
				c.state = StateClosed
				c.reason = err.Error()
				close(c.done)
				c.mu.Unlock()
			})
			c.handlers.OnError(err)
		}
		return
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	log.Debug().Msg("notification channel open")
	c.handlers.OnOpen()

	go c.writePump(conn)
	go c.readPump(conn)
}

// readPump delivers inbound frames until the socket ends.
func (c *Channel) readPump(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn().Err(err).Msg("notification channel read error")
			}
			c.finish(closeReason(err))
			return
		}

		c.handlers.OnMessage(message)
	}
}

// writePump keeps the socket alive; the client never sends data frames.
func (c *Channel) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// finish moves the channel to StateClosed once and reports reason.
func (c *Channel) finish(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.reason = reason
		conn := c.conn
		close(c.done)
		c.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		log.Info().Str("reason", reason).Msg("notification channel closed")
		c.handlers.OnClose(reason)
	})
}

// closeReason extracts the reason text of a close frame, or describes the
// network error that ended the socket.
func closeReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Text == "" {
			return UnknownReason
		}
		return ce.Text
	}
	if err == nil || err.Error() == "" {
		return UnknownReason
	}
	return err.Error()
}
