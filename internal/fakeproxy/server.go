// Package fakeproxy is an in-process stand-in for the SxS proxy. It answers
// the ping probe, the JSON command endpoint and the notification socket, and
// records what clients send. Tests and the mock subcommand use it.
package fakeproxy

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"sxs-link/internal/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Local clients only.
	},
}

// DefaultChannels mirrors the proxy's standard color channel set.
var DefaultChannels = []protocol.ColorChannel{
	{Label: "Red", ChannelID: "1"},
	{Label: "Green", ChannelID: "2"},
	{Label: "Blue", ChannelID: "3"},
	{Label: "Yellow", ChannelID: "4"},
}

// Options configures a fake proxy.
type Options struct {
	// APIKey is the only key accepted by handshake. Empty accepts any key.
	APIKey string
	// Token is issued on handshake. Empty generates a random one.
	Token string
	// Channels is the directory listing. Nil uses DefaultChannels.
	Channels []protocol.ColorChannel
	// Echo rebroadcasts every contextChanged as contextReceived to all sockets.
	Echo bool
	// Port, when non-zero, is reported by /ping instead of the listener port.
	Port int
}

// Server is the fake proxy.
type Server struct {
	opts Options

	mu       sync.Mutex
	token    string
	commands []protocol.Envelope
	raw      [][]byte
	rejects  map[string]string
	joined   string

	clients   map[*client]bool
	clientsMu sync.RWMutex
	sockets   []socketInfo
}

type socketInfo struct {
	Token    string
	LinkType string
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// New creates a fake proxy.
func New(opts Options) *Server {
	if opts.Channels == nil {
		opts.Channels = DefaultChannels
	}
	token := opts.Token
	if token == "" {
		token = uuid.New().String()
	}
	return &Server{
		opts:    opts,
		token:   token,
		rejects: make(map[string]string),
		clients: make(map[*client]bool),
	}
}

// Token returns the session token issued on handshake.
func (s *Server) Token() string {
	return s.token
}

// Handler returns an http.Handler with all proxy routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("POST /sxs/v1/", s.handleCommand)
	mux.HandleFunc("GET /sxs/v1/notifications", s.handleNotifications)
	return mux
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	port := s.opts.Port
	if port == 0 {
		if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
			if tcp, ok := addr.(*net.TCPAddr); ok {
				port = tcp.Port
			}
		}
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(strconv.Itoa(port)))
}

// handleNotifications upgrades an authenticated request to a WebSocket.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("sessionToken") != s.token {
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("fakeproxy: websocket upgrade error")
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.sockets = append(s.sockets, socketInfo{Token: q.Get("sessionToken"), LinkType: q.Get("linkType")})
	s.clientsMu.Unlock()

	go c.writePump()
	go c.readPump()
}

// readPump drains the socket; clients never send on it.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump writes queued notifications and keeps the socket alive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if s.clients[c] {
		delete(s.clients, c)
		close(c.send)
	}
}

// Connected returns the number of open notification sockets.
func (s *Server) Connected() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// SocketLinkTypes returns the linkType query value of every accepted socket.
func (s *Server) SocketLinkTypes() []string {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	out := make([]string, 0, len(s.sockets))
	for _, u := range s.sockets {
		out = append(out, u.LinkType)
	}
	return out
}

// PushRaw sends data to every open socket and returns how many got it.
func (s *Server) PushRaw(data []byte) int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	n := 0
	for c := range s.clients {
		select {
		case c.send <- data:
			n++
		default:
			// Client buffer full, skip.
		}
	}
	return n
}

// PushContext broadcasts a contextReceived notification.
func (s *Server) PushContext(ctx protocol.Context) int {
	data, err := protocol.NewContextReceived(ctx)
	if err != nil {
		return 0
	}
	return s.PushRaw(data)
}

// CloseSockets closes every socket with the given close code and reason.
// An empty reason sends a close frame without text.
func (s *Server) CloseSockets(code int, reason string) {
	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	var msg []byte
	if code != websocket.CloseNoStatusReceived {
		msg = websocket.FormatCloseMessage(code, reason)
	}
	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeDeadline))
		c.conn.Close()
	}
}

// DropSockets closes every socket without a close frame.
func (s *Server) DropSockets() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		c.conn.UnderlyingConn().Close()
	}
}

func (s *Server) encode(v interface{}) []byte {
	data, _ := json.Marshal(v)
	return data
}
