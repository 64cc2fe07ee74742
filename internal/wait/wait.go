package wait

import (
	"fmt"
	"time"

	"github.com/schovi/dockertest/internal/linebuf"
	"github.com/schovi/dockertest/internal/match"
)

const DefaultSettle = 500 * time.Millisecond

type Config struct {
	// Settle is how long the buffer must stay quiet, counting both complete
	// lines and the partial line.
	Settle  time.Duration
	Timeout time.Duration
	// Secondary buffers are flushed on every iteration.
	Secondary []match.Flusher
}

// ForSettle consumes lines from buf until no output has arrived for
// cfg.Settle and returns the lines consumed. Output that never stops
// produces an error after cfg.Timeout, along with the lines seen so far.
func ForSettle(buf *linebuf.LineBuffer, cfg Config) ([]string, error) {
	settle := cfg.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}

	deadline := time.Now().Add(cfg.Timeout)
	lastChange := time.Now()
	lastPeek := buf.Peek()

	var lines []string
	for {
		for _, s := range cfg.Secondary {
			s.Flush()
		}

		if line, ok := buf.NextLine(); ok {
			lines = append(lines, line)
			lastChange = time.Now()
		} else if peek := buf.Peek(); peek != lastPeek {
			lastPeek = peek
			lastChange = time.Now()
		}

		if buf.Unseen() > 0 {
			continue
		}
		if time.Since(lastChange) >= settle {
			return lines, nil
		}
		if buf.EOF() || buf.Err() != nil {
			// Nothing more can arrive.
			return lines, buf.Err()
		}
		if time.Now().After(deadline) {
			return lines, fmt.Errorf("timeout waiting for output to settle after %s", cfg.Timeout)
		}
	}
}
