package protocol

import (
	"encoding/json"
	"fmt"
)

// validCommands is the set of commands the proxy accepts on the command endpoint.
var validCommands = map[string]bool{
	CommandHandshake:           true,
	CommandGetColorChannelList: true,
	CommandJoinColorChannel:    true,
	CommandContextChanged:      true,
}

// ValidateCommand validates a raw command body as the proxy sees it.
// Returns the parsed Envelope and any validation error.
func ValidateCommand(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedMessage, err)
	}

	if env.Command == "" {
		return nil, fmt.Errorf("%w: missing 'command' field", ErrMalformedMessage)
	}

	if !validCommands[env.Command] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, env.Command)
	}

	switch env.Command {
	case CommandHandshake:
		if env.SessionToken != "" {
			return nil, fmt.Errorf("%w: handshake must not carry 'sessionToken'", ErrMalformedMessage)
		}
		if env.ProductID == "" {
			return nil, fmt.Errorf("%w: missing required field 'productId' in %s", ErrMalformedMessage, env.Command)
		}
		if env.APIKey == "" {
			return nil, fmt.Errorf("%w: missing required field 'apiKey' in %s", ErrMalformedMessage, env.Command)
		}
		return &env, nil

	case CommandJoinColorChannel:
		if env.ChannelID == "" {
			return nil, fmt.Errorf("%w: missing required field 'channelId' in %s", ErrMalformedMessage, env.Command)
		}

	case CommandContextChanged:
		if env.Context == nil || len(env.Context.Entities) == 0 {
			return nil, fmt.Errorf("%w: missing required field 'context.entities' in %s", ErrMalformedMessage, env.Command)
		}
	}

	if env.SessionToken == "" {
		return nil, fmt.Errorf("%w: missing required field 'sessionToken' in %s", ErrMalformedMessage, env.Command)
	}

	return &env, nil
}
