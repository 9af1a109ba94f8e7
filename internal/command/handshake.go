package command

import (
	"context"

	"sxs-link/internal/protocol"
)

// Handshake opens a session and returns its token. The handshake never
// carries a token, whatever the caller holds.
func (c *Client) Handshake(ctx context.Context, productID, apiKey string) (string, error) {
	resp, err := c.Do(ctx, protocol.NewHandshake(productID, apiKey), "")
	if err != nil {
		return "", err
	}
	if resp.SessionToken == "" {
		return "", &RejectionError{Command: protocol.CommandHandshake, Message: "no session token in response"}
	}
	return resp.SessionToken, nil
}

// SendContext publishes ric to the joined color channel.
func (c *Client) SendContext(ctx context.Context, token, ric string) error {
	env, err := protocol.NewContextChanged(ric)
	if err != nil {
		return err
	}
	_, err = c.Do(ctx, env, token)
	return err
}
