package session

import (
	"time"

	"sxs-link/internal/protocol"
)

// State is the connection lifecycle state of a coordinator.
type State string

const (
	StateDisconnected        State = "disconnected"
	StatePortScanning        State = "port_scanning"
	StateHandshakePending    State = "handshake_pending"
	StateWebSocketConnecting State = "websocket_connecting"
	StateJoined              State = "joined"
	StateClosed              State = "closed"
	StateFailed              State = "failed"
)

var stateRank = map[State]int{
	StateDisconnected:        0,
	StatePortScanning:        1,
	StateHandshakePending:    2,
	StateWebSocketConnecting: 3,
	StateJoined:              4,
	StateClosed:              5,
	StateFailed:              5,
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// CanTransition reports whether from -> to is allowed. Transitions only move
// forward; failed is reachable from any live state and a repeated join keeps
// the session joined.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	if from == StateJoined && to == StateJoined {
		return true
	}
	fr, ok := stateRank[from]
	if !ok {
		return false
	}
	tr, ok := stateRank[to]
	if !ok {
		return false
	}
	return tr > fr
}

// Session is the negotiated link to one proxy instance.
type Session struct {
	ProxyBaseURL    string `json:"proxyBaseUrl"`
	NotificationURL string `json:"notificationUrl"`
	Token           string `json:"-"`
}

// HasToken reports whether a handshake succeeded and the link is still live.
func (s Session) HasToken() bool {
	return s.Token != ""
}

// EventType distinguishes the events published by a Coordinator.
type EventType string

const (
	EventStatus    EventType = "status"
	EventState     EventType = "state"
	EventChannels  EventType = "channels"
	EventActions   EventType = "actions"
	EventContext   EventType = "context"
	EventFatal     EventType = "fatal"
	EventWatchlist EventType = "watchlist"
)

// Event is one entry of the coordinator's event stream. Only the fields
// relevant to Type are set.
type Event struct {
	Type      EventType               `json:"type"`
	Message   string                  `json:"message,omitempty"`
	State     State                   `json:"state,omitempty"`
	Channels  []protocol.ColorChannel `json:"channels,omitempty"`
	Enabled   bool                    `json:"enabled,omitempty"`
	RIC       string                  `json:"ric,omitempty"`
	Entities  []protocol.Entity       `json:"entities,omitempty"`
	Watchlist []string                `json:"watchlist,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// Snapshot is a point-in-time copy of coordinator state.
type Snapshot struct {
	State    State
	Session  Session
	Channels []protocol.ColorChannel
	Joined   string
}
