// Package discovery finds the local proxy by probing a bounded port range.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultProbeTimeout = 750 * time.Millisecond

	pingPath          = "/ping"
	commandPath       = "/sxs/v1/"
	notificationsPath = "/sxs/v1/notifications"
	maxProbeBody      = 64
)

// ErrNotFound is returned when no candidate port answered as the proxy.
var ErrNotFound = errors.New("discovery: proxy not found")

// Endpoint describes a confirmed proxy instance.
type Endpoint struct {
	Port            int
	BaseURL         string
	NotificationURL string
}

// Locator probes candidate ports one at a time.
type Locator struct {
	host   string
	client *http.Client

	// OnProbe, when set, is called before each candidate is probed.
	OnProbe func(port int)
}

// NewLocator creates a locator for host. A nil client gets a dedicated one
// with DefaultProbeTimeout; probe traffic never shares the command timeout.
func NewLocator(host string, client *http.Client) *Locator {
	if host == "" {
		host = "localhost"
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultProbeTimeout}
	}
	return &Locator{host: host, client: client}
}

// NewProbeClient returns an HTTP client suitable for probing.
func NewProbeClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &http.Client{Timeout: timeout}
}

// EndpointFor derives the command and notification URLs for a port.
func EndpointFor(host string, port int) Endpoint {
	hostPort := host + ":" + strconv.Itoa(port)
	return Endpoint{
		Port:            port,
		BaseURL:         "http://" + hostPort + commandPath,
		NotificationURL: "ws://" + hostPort + notificationsPath,
	}
}

// Locate probes basePort..basePort+maxAttempts in ascending order and returns
// the first port whose /ping body equals its own port number.
func (l *Locator) Locate(ctx context.Context, basePort, maxAttempts int) (Endpoint, error) {
	for offset := 0; offset <= maxAttempts; offset++ {
		if err := ctx.Err(); err != nil {
			return Endpoint{}, err
		}

		port := basePort + offset
		if l.OnProbe != nil {
			l.OnProbe(port)
		}

		if l.probe(ctx, port) {
			log.Info().Int("port", port).Msg("proxy found")
			return EndpointFor(l.host, port), nil
		}
	}

	return Endpoint{}, fmt.Errorf("%w on ports %d-%d", ErrNotFound, basePort, basePort+maxAttempts)
}

// probe reports whether port answers as the proxy. Every failure counts as
// "not present".
func (l *Locator) probe(ctx context.Context, port int) bool {
	want := strconv.Itoa(port)
	url := "http://" + l.host + ":" + want + pingPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := l.client.Do(req)
	if err != nil {
		log.Debug().Int("port", port).Err(err).Msg("probe failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Debug().Int("port", port).Int("status", resp.StatusCode).Msg("probe rejected")
		return false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		log.Debug().Int("port", port).Err(err).Msg("probe body unreadable")
		return false
	}

	got := string(body)
	if got != want {
		log.Debug().Int("port", port).Str("body", got).Msg("port answered but is not the proxy")
		return false
	}
	return true
}
