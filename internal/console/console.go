// Package console is a line-oriented terminal front-end for a session.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"sxs-link/internal/protocol"
	"sxs-link/internal/session"
)

// Session is the part of session.Coordinator the console drives.
type Session interface {
	Subscribe() (string, <-chan session.Event, []session.Event)
	Unsubscribe(id string)
	Join(ctx context.Context, channelID string) error
	SendContext(ctx context.Context, ric string) error
	Channels() []protocol.ColorChannel
	Snapshot() session.Snapshot
}

var _ Session = (*session.Coordinator)(nil)

// Watchlist supplies the RICs offered by "send <index>".
type Watchlist interface {
	RICs() []string
	At(n int) (string, bool)
}

const helpText = `commands:
  channels              list color channels
  join <index|id>       join a color channel
  send <index|RIC>      send a watchlist entry or any RIC
  watchlist             show the watchlist
  state                 show the connection state
  help                  show this help
  quit                  exit`

// Console reads commands from in and prints session events to out.
type Console struct {
	sess      Session
	watchlist Watchlist
	in        io.Reader
	out       io.Writer
}

// New creates a console.
func New(sess Session, watchlist Watchlist, in io.Reader, out io.Writer) *Console {
	return &Console{sess: sess, watchlist: watchlist, in: in, out: out}
}

// Run prints events and executes commands until input ends, "quit" is
// entered, the session ends, or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	subID, events, history := c.sess.Subscribe()
	defer c.sess.Unsubscribe(subID)

	for _, ev := range history {
		c.printEvent(ev)
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go c.readLines(ctx, lines, readErr)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.printEvent(ev)

		case line, ok := <-lines:
			if !ok {
				return <-readErr
			}
			if quit := c.execute(ctx, line); quit {
				return nil
			}
		}
	}
}

func (c *Console) readLines(ctx context.Context, lines chan<- string, readErr chan<- error) {
	defer close(lines)
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			readErr <- nil
			return
		}
	}
	readErr <- scanner.Err()
}

// execute runs one command line and reports whether the console should exit.
func (c *Console) execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "quit", "exit":
		return true
	case "help", "?":
		c.println(helpText)
	case "channels":
		c.printChannels(c.sess.Channels())
	case "watchlist":
		c.printWatchlist(c.watchlist.RICs())
	case "state":
		snap := c.sess.Snapshot()
		if snap.Joined != "" {
			c.printf("state: %s (channel %s)\n", snap.State, snap.Joined)
		} else {
			c.printf("state: %s\n", snap.State)
		}
	case "join":
		if len(args) != 1 {
			c.println("usage: join <index|id>")
			return false
		}
		c.report(c.sess.Join(ctx, c.resolveChannel(args[0])))
	case "send":
		if len(args) != 1 {
			c.println("usage: send <index|RIC>")
			return false
		}
		ric, ok := c.resolveRIC(args[0])
		if !ok {
			c.printf("no watchlist entry %s\n", args[0])
			return false
		}
		c.report(c.sess.SendContext(ctx, ric))
	default:
		c.printf("unknown command %q, type help\n", cmd)
	}
	return false
}

// resolveChannel treats arg as a 1-based index into the listing when it is
// one, and as a channel id otherwise.
func (c *Console) resolveChannel(arg string) string {
	if n, err := strconv.Atoi(arg); err == nil {
		channels := c.sess.Channels()
		if n >= 1 && n <= len(channels) {
			return channels[n-1].ChannelID
		}
	}
	return arg
}

func (c *Console) resolveRIC(arg string) (string, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return arg, true
	}
	return c.watchlist.At(n)
}

// report prints errors the session does not announce itself.
func (c *Console) report(err error) {
	switch {
	case err == nil:
	case errors.Is(err, session.ErrTerminated):
		c.println("session has ended")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.printf("cancelled: %v\n", err)
	}
}

func (c *Console) printEvent(ev session.Event) {
	switch ev.Type {
	case session.EventStatus:
		c.printf("* %s\n", ev.Message)
	case session.EventState:
		c.printf("state: %s\n", ev.State)
	case session.EventChannels:
		c.printChannels(ev.Channels)
	case session.EventActions:
		if ev.Enabled {
			c.println("sending enabled")
		} else {
			c.println("sending disabled")
		}
	case session.EventContext:
		c.printf("context: %s\n", ev.RIC)
	case session.EventFatal:
		c.printf("fatal: %s\n", ev.Message)
	case session.EventWatchlist:
		c.printWatchlist(ev.Watchlist)
	}
}

func (c *Console) printChannels(channels []protocol.ColorChannel) {
	if len(channels) == 0 {
		c.println("no color channels")
		return
	}
	c.println("color channels:")
	for i, ch := range channels {
		c.printf("  %d) %s (%s)\n", i+1, ch.Label, ch.ChannelID)
	}
}

func (c *Console) printWatchlist(rics []string) {
	if len(rics) == 0 {
		c.println("watchlist is empty")
		return
	}
	c.println("watchlist:")
	for i, ric := range rics {
		c.printf("  %d) %s\n", i+1, ric)
	}
}

func (c *Console) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) println(s string) {
	fmt.Fprintln(c.out, s)
}
