package operator

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"time"
)

// LineChannel reads operator commands, one per line, from a reader such as
// stdin or from a FIFO that is reopened whenever its writer goes away.
type LineChannel struct {
	name string
	path string
	read io.Reader
	logf func(string, ...any)
}

func NewLineChannel(name string, reader io.Reader, logf func(string, ...any)) *LineChannel {
	return &LineChannel{name: name, read: reader, logf: logf}
}

func NewLineChannelFromPath(path string, logf func(string, ...any)) *LineChannel {
	name := strings.TrimSpace(path)
	if name == "" {
		name = "fifo"
	}
	return &LineChannel{name: name, path: path, logf: logf}
}

func (c *LineChannel) Name() string {
	if strings.TrimSpace(c.name) == "" {
		return "line"
	}
	return c.name
}

func (c *LineChannel) Observations(ctx context.Context) (<-chan Observation, error) {
	out := make(chan Observation, 8)
	if c.path != "" {
		go c.readPathLoop(ctx, out)
	} else {
		go func() {
			defer close(out)
			c.readReader(ctx, c.read, out)
		}()
	}
	return out, nil
}

func (c *LineChannel) readReader(ctx context.Context, r io.Reader, out chan<- Observation) {
	if r == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		obs, err := Parse(line)
		if err != nil {
			c.log("operator: %v", err)
			continue
		}
		obs.Source = c.Name()
		obs.At = time.Now()
		select {
		case out <- obs:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		c.log("operator read error: %v", err)
	}
}

func (c *LineChannel) readPathLoop(ctx context.Context, out chan<- Observation) {
	defer close(out)
	path := strings.TrimSpace(c.path)
	if path == "" {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		f, err := os.Open(path)
		if err != nil {
			c.log("operator open failed: %v", err)
			if !sleep(ctx, 500*time.Millisecond) {
				return
			}
			continue
		}
		c.readReader(ctx, f, out)
		_ = f.Close()
		if !sleep(ctx, 200*time.Millisecond) {
			return
		}
	}
}

func (c *LineChannel) log(format string, args ...any) {
	if c.logf != nil {
		c.logf(format, args...)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
