package cd

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

var ErrPoolClosed = errors.New("pool closed")

// Pool hands out connections of one Dialer. Between Get and Put a Conn
// belongs to the caller only; at most size connections are open at once.
// Checkout and checkin go through channels, nothing is locked while a
// connection talks to the store.
type Pool struct {
	dialer Dialer
	idle   chan Conn
	slots  chan struct{} // one token per open connection

	mu     sync.Mutex
	closed bool
}

// NewPool dials one connection right away, so an unreachable store is
// reported here (marked ErrConnection) and not on first use.
func NewPool(ctx context.Context, dialer Dialer, size int) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		dialer: dialer,
		idle:   make(chan Conn, size),
		slots:  make(chan struct{}, size),
	}
	c, err := p.Get(ctx)
	if err != nil {
		_ = dialer.Close()
		return nil, err
	}
	p.Put(c)
	return p, nil
}

// Get returns an idle connection, dials a new one if the pool has room, or
// waits for one to be returned.
func (p *Pool) Get(ctx context.Context) (Conn, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	select {
	case c := <-p.idle:
		return c, nil
	default:
	}
	select {
	case c := <-p.idle:
		return c, nil
	case p.slots <- struct{}{}:
		c, err := p.dialer.Dial(ctx)
		if err != nil {
			<-p.slots
			return nil, err
		}
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns c to the pool.
func (p *Pool) Put(c Conn) {
	p.mu.Lock()
	if !p.closed {
		select {
		case p.idle <- c:
			p.mu.Unlock()
			return
		default:
		}
	}
	p.mu.Unlock()
	p.Discard(c)
}

// Discard closes c and frees its slot. Use it for connections left in an
// unknown state by a failed call.
func (p *Pool) Discard(c Conn) {
	_ = c.Close()
	select {
	case <-p.slots:
	default:
	}
}

// Do runs f on a checked out connection. The connection goes back to the
// pool unless f failed with something other than a store reply.
func (p *Pool) Do(ctx context.Context, f func(Conn) error) error {
	c, err := p.Get(ctx)
	if err != nil {
		return err
	}
	err = f(c)
	if err != nil && !isReply(err) {
		p.Discard(c)
		return err
	}
	p.Put(c)
	return err
}

// isReply reports whether err is an answer of a healthy store.
func isReply(err error) bool {
	var se *StoreError
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNotInteger) ||
		errors.As(err, &se)
}

// Close closes idle connections and the dialer. Connections still checked
// out are closed when they are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	for {
		select {
		case c := <-p.idle:
			p.Discard(c)
		default:
			return p.dialer.Close()
		}
	}
}
