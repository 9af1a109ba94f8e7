// Package directory lists and joins color channels over the command channel.
package directory

import (
	"context"
	"time"

	"sxs-link/internal/command"
	"sxs-link/internal/protocol"

	"github.com/jellydator/ttlcache/v3"
)

const DefaultLabelTTL = time.Hour

// Sender is the subset of command.Client the directory needs.
type Sender interface {
	Do(ctx context.Context, env protocol.Envelope, token string) (*protocol.Response, error)
}

var _ Sender = (*command.Client)(nil)

// Directory is the color channel directory client. Listed channels are kept
// in a TTL cache keyed by channel id so joins can be reported by label.
type Directory struct {
	sender Sender
	labels *ttlcache.Cache[string, protocol.ColorChannel]
}

// New creates a directory. ttl <= 0 uses DefaultLabelTTL.
func New(sender Sender, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = DefaultLabelTTL
	}
	c := ttlcache.New[string, protocol.ColorChannel](
		ttlcache.WithTTL[string, protocol.ColorChannel](ttl),
		ttlcache.WithDisableTouchOnHit[string, protocol.ColorChannel](),
	)
	go c.Start()
	return &Directory{sender: sender, labels: c}
}

// Close stops the cache expiration loop.
func (d *Directory) Close() {
	d.labels.Stop()
}

// List fetches the channel directory and replaces the label index wholesale.
func (d *Directory) List(ctx context.Context, token string) ([]protocol.ColorChannel, error) {
	resp, err := d.sender.Do(ctx, protocol.NewChannelList(), token)
	if err != nil {
		return nil, err
	}

	channels := make([]protocol.ColorChannel, len(resp.Channels))
	copy(channels, resp.Channels)

	d.labels.DeleteAll()
	for _, ch := range channels {
		d.labels.Set(ch.ChannelID, ch, ttlcache.DefaultTTL)
	}
	return channels, nil
}

// Join links the session to channelID. Repeated joins are sent as-is.
func (d *Directory) Join(ctx context.Context, token, channelID string) error {
	_, err := d.sender.Do(ctx, protocol.NewJoin(channelID), token)
	return err
}

// Label returns the display label of a listed channel.
func (d *Directory) Label(channelID string) (string, bool) {
	item := d.labels.Get(channelID)
	if item == nil {
		return "", false
	}
	return item.Value().Label, true
}
