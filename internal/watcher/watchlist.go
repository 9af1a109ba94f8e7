// Package watcher keeps the list of RICs offered for sending in sync with a
// file on disk.
package watcher

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const debounceInterval = 500 * time.Millisecond

// DefaultRICs is offered when no watchlist file is configured.
var DefaultRICs = []string{"IBM.N", "MSFT.O", "AAPL.O", "GOOG.O", "VOD.L"}

// UpdateCallback is called with the new list after the file changes.
type UpdateCallback func(rics []string)

// Watchlist holds the current RICs and reloads them when the file changes.
type Watchlist struct {
	path     string
	callback UpdateCallback
	debounce time.Duration

	mu        sync.RWMutex
	rics      []string
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
	timer     *time.Timer
}

// New loads path, or DefaultRICs when path is empty. Call Start to follow
// changes.
func New(path string, callback UpdateCallback) (*Watchlist, error) {
	w := &Watchlist{callback: callback, debounce: debounceInterval}
	if path == "" {
		w.rics = slices.Clone(DefaultRICs)
		return w, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watchlist path: %w", err)
	}
	rics, err := Load(abs)
	if err != nil {
		return nil, err
	}
	w.path = abs
	w.rics = rics
	return w, nil
}

// Load reads a watchlist file.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open watchlist: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads one RIC per line. Blank lines and text after '#' are ignored;
// duplicates keep their first position.
func Parse(r io.Reader) ([]string, error) {
	var rics []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		ric := strings.TrimSpace(line)
		if ric == "" || seen[ric] {
			continue
		}
		seen[ric] = true
		rics = append(rics, ric)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read watchlist: %w", err)
	}
	return rics, nil
}

// Path returns the watched file, empty for the built-in list.
func (w *Watchlist) Path() string {
	return w.path
}

// RICs returns a copy of the current list.
func (w *Watchlist) RICs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.rics)
}

// At returns the RIC at 1-based position n.
func (w *Watchlist) At(n int) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if n < 1 || n > len(w.rics) {
		return "", false
	}
	return w.rics[n-1], true
}

// Start watches the file for changes. It is a no-op for the built-in list.
// The parent directory is watched so editors that replace the file are seen.
func (w *Watchlist) Start() error {
	if w.path == "" {
		return nil
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsW.Add(filepath.Dir(w.path)); err != nil {
		fsW.Close()
		return err
	}

	w.mu.Lock()
	w.fsWatcher = fsW
	w.cancel = make(chan struct{})
	w.mu.Unlock()

	go w.watchLoop(fsW, w.cancel)
	return nil
}

// Close stops watching.
func (w *Watchlist) Close() {
	w.mu.Lock()
	fsW, cancel, timer := w.fsWatcher, w.cancel, w.timer
	w.fsWatcher, w.cancel, w.timer = nil, nil, nil
	w.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if cancel != nil {
		close(cancel)
	}
	if fsW != nil {
		fsW.Close()
	}
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watchlist) watchLoop(fsW *fsnotify.Watcher, cancel chan struct{}) {
	for {
		select {
		case <-cancel:
			return

		case event, ok := <-fsW.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Debounce: reset timer on each event.
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			if w.cancel != nil {
				w.timer = time.AfterFunc(w.debounce, w.reload)
			}
			w.mu.Unlock()

		case err, ok := <-fsW.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("path", w.path).Msg("watchlist watcher error")
		}
	}
}

// reload re-reads the file and notifies if the list changed. A file that is
// missing or unreadable keeps the previous list.
func (w *Watchlist) reload() {
	rics, err := Load(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("watchlist reload failed")
		return
	}

	w.mu.Lock()
	if slices.Equal(rics, w.rics) {
		w.mu.Unlock()
		return
	}
	w.rics = rics
	w.mu.Unlock()

	log.Info().Int("count", len(rics)).Msg("watchlist reloaded")
	if w.callback != nil {
		w.callback(slices.Clone(rics))
	}
}
