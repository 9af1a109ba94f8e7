package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Command names carried in the "command" field of every envelope.
const (
	CommandHandshake           = "handshake"
	CommandGetColorChannelList = "getColorChannelList"
	CommandJoinColorChannel    = "joinColorChannel"
	CommandContextChanged      = "contextChanged"
	CommandContextReceived     = "contextReceived"
)

var (
	// ErrMalformedMessage is returned when a payload is not valid JSON or
	// lacks a field its command requires.
	ErrMalformedMessage = errors.New("protocol: malformed message")
	// ErrEmptyReference is returned when a context would carry no entity.
	ErrEmptyReference = errors.New("protocol: empty entity reference")
	// ErrUnknownCommand is returned for an envelope naming a command this
	// package does not define.
	ErrUnknownCommand = errors.New("protocol: unknown command")
)

// Envelope is the JSON body posted to the command endpoint.
// Field order matches the wire layout {command, ...fields, sessionToken?}.
type Envelope struct {
	Command      string   `json:"command"`
	ProductID    string   `json:"productId,omitempty"`
	APIKey       string   `json:"apiKey,omitempty"`
	ChannelID    string   `json:"channelId,omitempty"`
	Context      *Context `json:"context,omitempty"`
	SessionToken string   `json:"sessionToken,omitempty"`
}

// WithToken returns a copy of the envelope carrying token.
// An empty token leaves the envelope untouched.
func (e Envelope) WithToken(token string) Envelope {
	if token != "" {
		e.SessionToken = token
	}
	return e
}

// NewHandshake builds the session-opening envelope. It never carries a token.
func NewHandshake(productID, apiKey string) Envelope {
	return Envelope{
		Command:   CommandHandshake,
		ProductID: productID,
		APIKey:    apiKey,
	}
}

// NewChannelList builds a getColorChannelList envelope.
func NewChannelList() Envelope {
	return Envelope{Command: CommandGetColorChannelList}
}

// NewJoin builds a joinColorChannel envelope.
func NewJoin(channelID string) Envelope {
	return Envelope{
		Command:   CommandJoinColorChannel,
		ChannelID: channelID,
	}
}

// NewContextChanged builds the outbound context envelope for a single RIC.
func NewContextChanged(ric string) (Envelope, error) {
	if ric == "" {
		return Envelope{}, ErrEmptyReference
	}
	ctx := NewRICContext(ric)
	return Envelope{
		Command: CommandContextChanged,
		Context: &ctx,
	}, nil
}

// ErrorPayload is the error object attached to rejected responses.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Response is the body returned by the command endpoint.
type Response struct {
	IsSuccess    bool           `json:"isSuccess"`
	Error        *ErrorPayload  `json:"error,omitempty"`
	SessionToken string         `json:"sessionToken,omitempty"`
	Channels     []ColorChannel `json:"channels,omitempty"`
}

// ErrorMessage returns the server-supplied failure text, or "unknown error".
func (r *Response) ErrorMessage() string {
	if r == nil || r.Error == nil || r.Error.Message == "" {
		return "unknown error"
	}
	return r.Error.Message
}

// NewFailure builds a rejected response with the given message.
func NewFailure(message string) *Response {
	return &Response{
		IsSuccess: false,
		Error:     &ErrorPayload{Message: message},
	}
}

// ColorChannel is one entry of the color channel directory.
type ColorChannel struct {
	Label     string `json:"color"`
	ChannelID string `json:"channelId"`
}

// Notification is a message pushed over the notification socket.
// Context stays raw: for contextReceived it is a JSON string holding
// another JSON document.
type Notification struct {
	Command string          `json:"command"`
	Context json.RawMessage `json:"context,omitempty"`
}

// ParseNotification decodes a raw socket frame into a Notification.
func ParseNotification(raw []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedMessage, err)
	}
	if n.Command == "" {
		return nil, fmt.Errorf("%w: missing 'command' field", ErrMalformedMessage)
	}
	return &n, nil
}

// DecodeContext performs the second decode step of a contextReceived
// notification: the context field must be a string containing a JSON object.
func (n *Notification) DecodeContext() (Context, error) {
	if len(n.Context) == 0 {
		return Context{}, fmt.Errorf("%w: missing 'context' field", ErrMalformedMessage)
	}
	var encoded string
	if err := json.Unmarshal(n.Context, &encoded); err != nil {
		return Context{}, fmt.Errorf("%w: 'context' is not a string", ErrMalformedMessage)
	}
	var ctx Context
	if err := json.Unmarshal([]byte(encoded), &ctx); err != nil {
		return Context{}, fmt.Errorf("%w: invalid context document: %v", ErrMalformedMessage, err)
	}
	return ctx, nil
}

// NewContextReceived builds a contextReceived notification, string-encoding
// the context document the way the proxy does.
func NewContextReceived(ctx Context) ([]byte, error) {
	doc, err := json.Marshal(ctx)
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}
	encoded, err := json.Marshal(string(doc))
	if err != nil {
		return nil, fmt.Errorf("marshal context string: %w", err)
	}
	return json.Marshal(Notification{
		Command: CommandContextReceived,
		Context: encoded,
	})
}
