// Package engine keeps detector and OCR instances that are expensive to load
// and unsafe to share between concurrent searches.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"plate-search-service/internal/scanner"
)

var ErrPoolClosed = errors.New("engine pool closed")

// Context is one detector/reader pair. A search holds it from start to end.
type Context struct {
	ID       int
	Detector scanner.Detector
	Reader   scanner.TextReader
	close    func() error
}

func NewContext(id int, detector scanner.Detector, reader scanner.TextReader, closeFn func() error) *Context {
	return &Context{
		ID:       id,
		Detector: detector,
		Reader:   reader,
		close:    closeFn,
	}
}

func (c *Context) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

// Factory builds the context with the given id.
type Factory func(id int) (*Context, error)

type Pool struct {
	idle chan *Context
	all  []*Context
	log  zerolog.Logger

	mu       sync.Mutex
	inUse    map[*Context]bool
	closed   bool
	closeErr error
}

// NewPool loads size contexts up front. If any of them fails to load the
// ones already built are closed.
func NewPool(size int, factory Factory, log zerolog.Logger) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("engine pool size must be positive, got %d", size)
	}

	p := &Pool{
		idle:  make(chan *Context, size),
		all:   make([]*Context, 0, size),
		log:   log,
		inUse: make(map[*Context]bool, size),
	}

	for i := 0; i < size; i++ {
		c, err := factory(i)
		if err != nil {
			for _, built := range p.all {
				if cerr := built.Close(); cerr != nil {
					log.Warn().Err(cerr).Int("engine", built.ID).Msg("failed to close engine")
				}
			}
			return nil, fmt.Errorf("load engine %d: %w", i, err)
		}
		p.all = append(p.all, c)
		p.idle <- c
	}

	log.Info().Int("engines", size).Msg("engine pool ready")
	return p, nil
}

// Checkout blocks until a context is free or ctx is done.
func (p *Pool) Checkout(ctx context.Context) (*Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case c, ok := <-p.idle:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.mu.Lock()
		p.inUse[c] = true
		p.mu.Unlock()
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Return hands c back. Returning a context that is not checked out is a no-op.
func (p *Pool) Return(c *Context) {
	if c == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inUse[c] {
		p.log.Warn().Int("engine", c.ID).Msg("engine returned twice")
		return
	}
	delete(p.inUse, c)

	if p.closed {
		if err := c.Close(); err != nil {
			p.log.Warn().Err(err).Int("engine", c.ID).Msg("failed to close engine")
		}
		return
	}
	p.idle <- c
}

func (p *Pool) Size() int {
	return len(p.all)
}

func (p *Pool) Idle() int {
	return len(p.idle)
}

// Close releases idle contexts now and checked-out ones as they come back.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return p.closeErr
	}
	p.closed = true
	close(p.idle)

	var errs []error
	for c := range p.idle {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close engine %d: %w", c.ID, err))
		}
	}
	p.closeErr = errors.Join(errs...)
	return p.closeErr
}
