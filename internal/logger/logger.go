// Package logger holds the process-wide structured logger used by the
// relocation engines and heap backends when no logger is injected.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// global is the process logger. It discards everything until Init enables it.
var global atomic.Pointer[slog.Logger]

func init() { global.Store(discard()) }

// L returns the global logger. It is safe to call while Init or Close runs.
func L() *slog.Logger { return global.Load() }

const (
	filePrefix = "llext-"
	fileSuffix = ".log"
	dateLayout = "2006-01-02"

	// keepDays is how long dated log files survive in a log directory.
	keepDays = 30
)

var (
	mu   sync.Mutex
	file *os.File
)

// Options configures Init.
type Options struct {
	Enabled bool       // false discards all output
	Writer  io.Writer  // text output; os.Stderr when nil
	LogDir  string     // JSON output to a dated file in this directory instead of Writer
	Level   slog.Level // minimum level; slog.LevelInfo is the zero value
}

// Init replaces the global logger according to opts. A log file opened by
// an earlier Init is closed once the new logger is in place.
func Init(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	next, f, err := build(opts)
	if err != nil {
		global.Store(discard())
		closeFile()
		return err
	}
	global.Store(next)
	closeFile()
	file = f
	return nil
}

// Close closes the log file, if any, and reverts the global logger to
// discarding.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	global.Store(discard())
	return closeFile()
}

func build(opts Options) (*slog.Logger, *os.File, error) {
	if !opts.Enabled {
		return discard(), nil, nil
	}
	hopts := &slog.HandlerOptions{Level: opts.Level}
	if opts.LogDir == "" {
		w := opts.Writer
		if w == nil {
			w = os.Stderr
		}
		return slog.New(slog.NewTextHandler(w, hopts)), nil, nil
	}
	f, err := openDated(opts.LogDir, time.Now())
	if err != nil {
		return nil, nil, err
	}
	return slog.New(slog.NewJSONHandler(f, hopts)), f, nil
}

// Or returns l when it is non-nil and the global logger otherwise.
func Or(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return global.Load()
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func closeFile() error {
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// openDated opens (appending) the log file for now's date in dir, after
// pruning files older than keepDays.
func openDated(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	prune(dir, now.AddDate(0, 0, -keepDays))

	name := filepath.Join(dir, filePrefix+now.Format(dateLayout)+fileSuffix)
	return os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// prune removes dated log files from before cutoff and reports how many it
// removed. Files that do not look like ours are left alone.
func prune(dir string, cutoff time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		day, ok := strings.CutPrefix(e.Name(), filePrefix)
		if !ok {
			continue
		}
		if day, ok = strings.CutSuffix(day, fileSuffix); !ok {
			continue
		}
		t, err := time.Parse(dateLayout, day)
		if err != nil || !t.Before(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(dir, e.Name())) == nil {
			removed++
		}
	}
	return removed
}
