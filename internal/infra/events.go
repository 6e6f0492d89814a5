package infra

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

const maxEventLine = 64 * 1024

// EventReader decodes window-change events written one JSON object per line.
type EventReader struct {
	src    io.Reader
	now    func() time.Time
	logger *zap.Logger
}

// NewEventReader reads events from src.
func NewEventReader(src io.Reader, now func() time.Time, logger *zap.Logger) *EventReader {
	if now == nil {
		now = time.Now
	}
	return &EventReader{src: src, now: now, logger: logger}
}

// OpenEventSource opens path for reading events. An empty path or "-" is stdin.
// A FIFO blocks here until a writer connects.
func OpenEventSource(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event source %s: %w", path, err)
	}
	return f, nil
}

// Run sends decoded events to out in arrival order until src is exhausted or
// ctx is canceled. Malformed lines are logged and skipped.
func (r *EventReader) Run(ctx context.Context, out chan<- domain.WindowEvent) error {
	scanner := bufio.NewScanner(r.src)
	scanner.Buffer(make([]byte, 0, 4096), maxEventLine)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var ev domain.WindowEvent
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			r.logger.Warn("skipping malformed event", zap.Int("line", line), zap.Error(err))
			continue
		}
		if ev.Package == "" {
			r.logger.Warn("skipping event without package", zap.Int("line", line))
			continue
		}
		ev.At = r.now()

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("event source: %w", err)
	}
	return nil
}

// PathEventSource opens its path only when run, so a FIFO without a writer
// does not hold up daemon startup.
type PathEventSource struct {
	path   string
	now    func() time.Time
	logger *zap.Logger
}

// NewPathEventSource creates a source for path ("-" or empty for stdin).
func NewPathEventSource(path string, now func() time.Time, logger *zap.Logger) *PathEventSource {
	return &PathEventSource{path: path, now: now, logger: logger}
}

// Run opens the source and reads events until it ends or ctx is canceled.
func (s *PathEventSource) Run(ctx context.Context, out chan<- domain.WindowEvent) error {
	src, err := OpenEventSource(s.path)
	if err != nil {
		return err
	}
	defer src.Close()
	s.logger.Info("reading window events", zap.String("source", s.path))
	return NewEventReader(src, s.now, s.logger).Run(ctx, out)
}
