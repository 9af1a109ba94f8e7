package fakeproxy

import (
	"errors"
	"io"
	"net/http"

	"sxs-link/internal/protocol"
)

// Reject makes every later command named command fail with message.
func (s *Server) Reject(command, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects[command] = message
}

// Commands returns every accepted command envelope in arrival order.
func (s *Server) Commands() []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Envelope(nil), s.commands...)
}

// RawCommands returns every command body exactly as received.
func (s *Server) RawCommands() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.raw...)
}

// Joined returns the channel id of the last successful join.
func (s *Server) Joined() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeResponse(w, protocol.NewFailure("unreadable request body"))
		return
	}

	s.mu.Lock()
	s.raw = append(s.raw, body)
	s.mu.Unlock()

	env, err := protocol.ValidateCommand(body)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, protocol.ErrUnknownCommand) {
			status = http.StatusNotFound
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(s.encode(protocol.NewFailure(err.Error())))
		return
	}

	s.mu.Lock()
	s.commands = append(s.commands, *env)
	rejectMsg, rejected := s.rejects[env.Command]
	s.mu.Unlock()

	if rejected {
		s.writeResponse(w, protocol.NewFailure(rejectMsg))
		return
	}

	if env.Command != protocol.CommandHandshake && env.SessionToken != s.token {
		s.writeResponse(w, protocol.NewFailure("invalid session token"))
		return
	}

	switch env.Command {
	case protocol.CommandHandshake:
		s.handleHandshake(w, env)
	case protocol.CommandGetColorChannelList:
		s.writeResponse(w, &protocol.Response{IsSuccess: true, Channels: s.opts.Channels})
	case protocol.CommandJoinColorChannel:
		s.handleJoin(w, env)
	case protocol.CommandContextChanged:
		s.handleContextChanged(w, env)
	}
}

func (s *Server) handleHandshake(w http.ResponseWriter, env *protocol.Envelope) {
	if s.opts.APIKey != "" && env.APIKey != s.opts.APIKey {
		s.writeResponse(w, protocol.NewFailure("invalid api key"))
		return
	}
	s.writeResponse(w, &protocol.Response{IsSuccess: true, SessionToken: s.token})
}

func (s *Server) handleJoin(w http.ResponseWriter, env *protocol.Envelope) {
	for _, ch := range s.opts.Channels {
		if ch.ChannelID == env.ChannelID {
			s.mu.Lock()
			s.joined = ch.ChannelID
			s.mu.Unlock()
			s.writeResponse(w, &protocol.Response{IsSuccess: true})
			return
		}
	}
	s.writeResponse(w, protocol.NewFailure("unknown channel "+env.ChannelID))
}

func (s *Server) handleContextChanged(w http.ResponseWriter, env *protocol.Envelope) {
	if s.Joined() == "" {
		s.writeResponse(w, protocol.NewFailure("not joined to a color channel"))
		return
	}
	s.writeResponse(w, &protocol.Response{IsSuccess: true})

	if s.opts.Echo {
		s.PushContext(*env.Context)
	}
}

func (s *Server) writeResponse(w http.ResponseWriter, resp *protocol.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(s.encode(resp))
}
