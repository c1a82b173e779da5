package query

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCancelled = errors.New("query cancelled before delivery")

// Pending is a response whose thinking delay has not elapsed yet. It is
// delivered exactly once, or cancelled, never both.
type Pending struct {
	id    string
	delay time.Duration
	timer *time.Timer
	done  chan struct{}
	once  sync.Once

	mu        sync.Mutex
	resp      Response
	delivered bool
}

func newPending(ctx context.Context, resp Response, delay time.Duration) *Pending {
	p := &Pending{
		id:    resp.ID,
		delay: delay,
		done:  make(chan struct{}),
		resp:  resp,
	}

	if delay <= 0 {
		p.finish(true)
		return p
	}

	p.timer = time.AfterFunc(delay, func() { p.finish(true) })

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				p.Cancel()
			case <-p.done:
			}
		}()
	}

	return p
}

func (p *Pending) finish(delivered bool) {
	p.once.Do(func() {
		p.mu.Lock()
		p.delivered = delivered
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *Pending) ID() string { return p.id }

func (p *Pending) Delay() time.Duration { return p.delay }

// Done is closed once the response is delivered or cancelled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result returns the response if it has been delivered.
func (p *Pending) Result() (Response, bool) {
	select {
	case <-p.done:
	default:
		return Response{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.delivered {
		return Response{}, false
	}
	return p.resp, true
}

// Wait blocks until delivery. It returns ErrCancelled if the pending was
// cancelled, or ctx.Err() if ctx ends first.
func (p *Pending) Wait(ctx context.Context) (Response, error) {
	select {
	case <-p.done:
		if resp, ok := p.Result(); ok {
			return resp, nil
		}
		return Response{}, ErrCancelled
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Cancel discards the response. It is safe to call any number of times and
// does nothing once the response has been delivered.
func (p *Pending) Cancel() {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.finish(false)
}

func (p *Pending) Cancelled() bool {
	select {
	case <-p.done:
	default:
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.delivered
}
