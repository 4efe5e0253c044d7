// Package containerlog captures container output for diagnostics.
//
// A Capture is attached to a container request as a testcontainers log
// consumer. It keeps the most recent lines in a bounded ring, optionally
// forwards every line to a slog.Logger at debug level and optionally mirrors
// the raw stream to a file under a log directory.
package containerlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/testcontainers/testcontainers-go"
)

// DefaultMaxLines bounds the number of lines kept in memory per container.
const DefaultMaxLines = 2000

// Option configures a Capture.
type Option func(*Capture)

// WithLogger forwards every captured line to logger at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Capture) {
		c.logger = logger
	}
}

// WithMaxLines sets the ring size.
func WithMaxLines(n int) Option {
	return func(c *Capture) {
		if n > 0 {
			c.maxLines = n
		}
	}
}

// WithDisabledStreams drops lines from the given streams ("STDOUT", "STDERR").
func WithDisabledStreams(streams ...string) Option {
	return func(c *Capture) {
		for _, s := range streams {
			c.disabled[s] = struct{}{}
		}
	}
}

// WithFileSink mirrors the raw stream to <dir>/<component>.log.
// An empty dir disables the sink.
func WithFileSink(dir string) Option {
	return func(c *Capture) {
		c.dir = dir
	}
}

// Capture implements testcontainers.LogConsumer.
type Capture struct {
	component string
	logger    *slog.Logger
	maxLines  int
	disabled  map[string]struct{}
	dir       string

	mu      sync.Mutex
	lines   []string
	next    int
	full    bool
	partial string
	sink    io.WriteCloser
	sinkErr error
}

var _ testcontainers.LogConsumer = (*Capture)(nil)

// New creates a Capture for the named component.
func New(component string, opts ...Option) *Capture {
	c := &Capture{
		component: component,
		maxLines:  DefaultMaxLines,
		disabled:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lines = make([]string, c.maxLines)
	return c
}

// Component returns the component name the capture was created for.
func (c *Capture) Component() string {
	return c.component
}

// Accept receives one chunk of container output.
func (c *Capture) Accept(l testcontainers.Log) {
	if _, ok := c.disabled[l.LogType]; ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeSink(l.Content)

	// Chunks are not guaranteed to end on a line boundary.
	text := c.partial + string(l.Content)
	parts := strings.Split(text, "\n")
	c.partial = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		c.appendLine(strings.TrimRight(line, "\r"))
	}
}

func (c *Capture) appendLine(line string) {
	c.lines[c.next] = line
	c.next = (c.next + 1) % c.maxLines
	if c.next == 0 {
		c.full = true
	}
	if c.logger != nil {
		c.logger.Debug(line, "component", c.component)
	}
}

func (c *Capture) writeSink(p []byte) {
	if c.dir == "" || c.sinkErr != nil {
		return
	}
	if c.sink == nil {
		if err := os.MkdirAll(c.dir, 0o755); err != nil {
			c.sinkErr = err
			return
		}
		f, err := os.OpenFile(filepath.Join(c.dir, c.component+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			c.sinkErr = err
			return
		}
		c.sink = f
	}
	if _, err := c.sink.Write(p); err != nil {
		c.sinkErr = err
	}
}

// Lines returns the retained lines in arrival order, including any
// unterminated trailing line.
func (c *Capture) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	if c.full {
		out = make([]string, 0, c.maxLines+1)
		out = append(out, c.lines[c.next:]...)
		out = append(out, c.lines[:c.next]...)
	} else {
		out = make([]string, 0, c.next+1)
		out = append(out, c.lines[:c.next]...)
	}
	if c.partial != "" {
		out = append(out, c.partial)
	}
	return out
}

// String returns the retained output joined by newlines.
func (c *Capture) String() string {
	return strings.Join(c.Lines(), "\n")
}

// Tail returns at most the last n retained lines joined by newlines.
func (c *Capture) Tail(n int) string {
	lines := c.Lines()
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Contains reports whether any retained line contains substr.
func (c *Capture) Contains(substr string) bool {
	for _, line := range c.Lines() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// Close flushes and closes the file sink, if any.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sink == nil {
		return c.sinkErr
	}
	err := c.sink.Close()
	c.sink = nil
	if err != nil {
		return fmt.Errorf("close %s log sink: %w", c.component, err)
	}
	return c.sinkErr
}

// Abandon terminates a container whose start failed and closes its capture.
// ctr may be nil.
func Abandon(ctx context.Context, ctr testcontainers.Container, c *Capture) error {
	return errors.Join(
		testcontainers.TerminateContainer(ctr, testcontainers.StopContext(ctx)),
		c.Close())
}

// Config returns a log consumer configuration that feeds this capture.
func (c *Capture) Config() *testcontainers.LogConsumerConfig {
	return &testcontainers.LogConsumerConfig{
		Opts:      []testcontainers.LogProductionOption{testcontainers.WithLogProductionTimeout(10 * time.Second)},
		Consumers: []testcontainers.LogConsumer{c},
	}
}
