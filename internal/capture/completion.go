package capture

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/gema-speaking-api/internal/audio"
)

// Recording is a finished, validated capture.
type Recording struct {
	Blob      *audio.Blob
	URL       string
	MIMEType  string
	Duration  time.Duration
	CreatedAt time.Time
}

// Completion resolves once the stop callback has finished processing a capture.
type Completion struct {
	done chan struct{}
	once sync.Once
	rec  Recording
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

func (c *Completion) resolve(rec Recording, err error) {
	c.once.Do(func() {
		c.rec = rec
		c.err = err
		close(c.done)
	})
}

// Done is closed when the result is available.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the capture is finalised or ctx ends.
func (c *Completion) Wait(ctx context.Context) (Recording, error) {
	select {
	case <-c.done:
		return c.rec, c.err
	case <-ctx.Done():
		return Recording{}, ctx.Err()
	}
}
