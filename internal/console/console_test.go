package console

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"sxs-link/internal/config"
	"sxs-link/internal/fakeproxy"
	"sxs-link/internal/protocol"
	"sxs-link/internal/session"
	"sxs-link/internal/watcher"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeSession struct {
	mu       sync.Mutex
	events   chan session.Event
	history  []session.Event
	channels []protocol.ColorChannel
	snap     session.Snapshot
	joins    []string
	sends    []string
	err      error
	unsubbed bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		events:   make(chan session.Event, 16),
		channels: fakeproxy.DefaultChannels,
		snap:     session.Snapshot{State: session.StateWebSocketConnecting},
	}
}

func (f *fakeSession) Subscribe() (string, <-chan session.Event, []session.Event) {
	return "sub", f.events, f.history
}

func (f *fakeSession) Unsubscribe(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubbed = true
}

func (f *fakeSession) Join(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, id)
	return f.err
}

func (f *fakeSession) SendContext(_ context.Context, ric string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, ric)
	return f.err
}

func (f *fakeSession) Channels() []protocol.ColorChannel { return f.channels }
func (f *fakeSession) Snapshot() session.Snapshot { return f.snap }

func defaultWatchlist(t *testing.T) *watcher.Watchlist {
	t.Helper()
	w, err := watcher.New("", nil)
	require.NoError(t, err)
	return w
}

func runScript(t *testing.T, sess Session, script string) string {
	t.Helper()
	var out bytes.Buffer
	err := New(sess, defaultWatchlist(t), strings.NewReader(script), &out).Run(context.Background())
	require.NoError(t, err)
	return out.String()
}

func TestRun_JoinResolvesIndexAndID(t *testing.T) {
	sess := newFakeSession()
	runScript(t, sess, "join 2\njoin 4\njoin custom-id\njoin 9\n")
	assert.Equal(t, []string{"2", "4", "custom-id", "9"}, sess.joins)
	assert.True(t, sess.unsubbed)
}

func TestRun_SendResolvesWatchlist(t *testing.T) {
	sess := newFakeSession()
	out := runScript(t, sess, "send 2\nsend VOD.L\nsend 99\n")
	assert.Equal(t, []string{"MSFT.O", "VOD.L"}, sess.sends)
	assert.Contains(t, out, "no watchlist entry 99")
}

func TestRun_Usage(t *testing.T) {
	out := runScript(t, newFakeSession(), "join\nsend a b\nfrobnicate\n\n")
	assert.Contains(t, out, "usage: join <index|id>")
	assert.Contains(t, out, "usage: send <index|RIC>")
	assert.Contains(t, out, `unknown command "frobnicate"`)
}

func TestRun_InfoCommands(t *testing.T) {
	sess := newFakeSession()
	sess.snap = session.Snapshot{State: session.StateJoined, Joined: "3"}
	out := runScript(t, sess, "help\nchannels\nwatchlist\nstate\n")

	assert.Contains(t, out, "join <index|id>")
	assert.Contains(t, out, "  3) Blue (3)")
	assert.Contains(t, out, "  1) IBM.N")
	assert.Contains(t, out, "state: joined (channel 3)")
}

func TestRun_QuitStopsReading(t *testing.T) {
	sess := newFakeSession()
	runScript(t, sess, "join 1\nquit\njoin 2\n")
	assert.Equal(t, []string{"1"}, sess.joins)
}

func TestRun_ReportsEndedSession(t *testing.T) {
	sess := newFakeSession()
	sess.err = session.ErrTerminated
	out := runScript(t, sess, "send IBM.N\n")
	assert.Contains(t, out, "session has ended")
}

func TestRun_PrintsHistoryAndEvents(t *testing.T) {
	sess := newFakeSession()
	sess.history = []session.Event{
		{Type: session.EventStatus, Message: "Connecting on port 9000"},
		{Type: session.EventState, State: session.StatePortScanning},
	}

	in, inW := io.Pipe()
	defer inW.Close()
	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- New(sess, defaultWatchlist(t), in, &out).Run(context.Background()) }()

	sess.events <- session.Event{Type: session.EventChannels, Channels: sess.channels}
	sess.events <- session.Event{Type: session.EventActions, Enabled: true}
	sess.events <- session.Event{Type: session.EventContext, RIC: "MSFT.O"}
	sess.events <- session.Event{Type: session.EventWatchlist, Watchlist: []string{"GOOG.O"}}
	sess.events <- session.Event{Type: session.EventFatal, Message: "proxy not running"}
	close(sess.events)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("console did not stop when the session ended")
	}

	got := out.String()
	for _, want := range []string{
		"* Connecting on port 9000",
		"state: port_scanning",
		"  1) Red (1)",
		"sending enabled",
		"context: MSFT.O",
		"  1) GOOG.O",
		"fatal: proxy not running",
	} {
		assert.Contains(t, got, want)
	}
	assert.Less(t, strings.Index(got, "Connecting"), strings.Index(got, "context: MSFT.O"))
}

func TestRun_ContextCancel(t *testing.T) {
	in, inW := io.Pipe()
	defer inW.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(newFakeSession(), defaultWatchlist(t), in, io.Discard).Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("console ignored cancellation")
	}
}

func TestRun_AgainstFakeProxy(t *testing.T) {
	proxy := fakeproxy.New(fakeproxy.Options{Token: "tok", Echo: true})
	srv := httptest.NewServer(proxy.Handler())
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.BasePort = port
	cfg.MaxAttempts = 0
	cfg.APIKey = "key"
	coord := session.New(cfg)
	defer coord.Close()

	in, inW := io.Pipe()
	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- New(coord, defaultWatchlist(t), in, &out).Run(context.Background()) }()
	coord.Start(context.Background())

	waitOutput := func(want string) {
		t.Helper()
		require.Eventually(t, func() bool { return strings.Contains(out.String(), want) },
			3*time.Second, 10*time.Millisecond, "missing %q in:\n%s", want, out.String())
	}

	waitOutput("  2) Green (2)")
	io.WriteString(inW, "join 2\n")
	waitOutput("Joined color channel Green (2)")
	io.WriteString(inW, "send 1\n")
	waitOutput("context: IBM.N")

	inW.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("console did not stop at end of input")
	}
}
