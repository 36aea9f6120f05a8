// Package pool supervises a set of Connections and selects one per checkout
// according to a load-balancing strategy.
package pool

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	mcpclient "github.com/kestrelmcp/goclient"
	"github.com/kestrelmcp/goclient/transport"
)

// Strategy selects which live Connection a Checkout returns.
type Strategy int

const (
	// RoundRobin atomic-increments a shared counter and picks counter mod n.
	RoundRobin Strategy = iota
	// Random picks uniformly among live Connections.
	Random
	// LeastBusy picks the Connection with the fewest pending Tracker
	// entries, ties broken by list order.
	LeastBusy
)

// ErrNoConnections is returned by Checkout when no live Connection exists.
var ErrNoConnections = fmt.Errorf("pool: no connections")

// Pool holds a set of Connections plus a selection strategy and a shared
// round-robin counter. Connections can be added or removed while the Pool
// is in use; Checkout only ever considers currently-live entries.
type Pool struct {
	id       string
	strategy Strategy
	counter  uint64

	mu    sync.RWMutex
	conns []*mcpclient.Connection

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New constructs a Pool over an explicit, possibly heterogeneous, list of
// already-dialed Connections.
func New(strategy Strategy, conns ...*mcpclient.Connection) *Pool {
	return &Pool{
		id:       uuid.NewString(),
		strategy: strategy,
		conns:    append([]*mcpclient.Connection(nil), conns...),
		rng:      rand.New(rand.NewSource(1)),
	}
}

// ID is a random identifier assigned at construction, the same way each
// Connection gets one, so logs and journal records from a multi-pool
// process can tell which pool an event came from.
func (p *Pool) ID() string {
	return p.id
}

// TransportFactory produces one fresh Transport per Connection in a
// homogeneous pool.
type TransportFactory func() (transport.Transport, error)

// DialPool builds a homogeneous pool of size Connections, each dialed from
// a transport produced by factory with the same options. If any Dial fails,
// every Connection already dialed is disconnected and the error is
// returned.
func DialPool(ctx context.Context, strategy Strategy, size int, factory TransportFactory, opts ...mcpclient.Option) (*Pool, error) {
	conns := make([]*mcpclient.Connection, 0, size)
	for i := 0; i < size; i++ {
		tr, err := factory()
		if err != nil {
			disconnectAll(conns)
			return nil, fmt.Errorf("pool: build transport %d: %w", i, err)
		}
		conn, err := mcpclient.Dial(ctx, tr, opts...)
		if err != nil {
			disconnectAll(conns)
			return nil, fmt.Errorf("pool: dial connection %d: %w", i, err)
		}
		conns = append(conns, conn)
	}
	return New(strategy, conns...), nil
}

func disconnectAll(conns []*mcpclient.Connection) {
	for _, c := range conns {
		_ = c.Disconnect()
	}
}

// Checkout selects one live Connection according to the Pool's strategy.
func (p *Pool) Checkout() (*mcpclient.Connection, error) {
	live := p.live()
	if len(live) == 0 {
		return nil, ErrNoConnections
	}

	switch p.strategy {
	case RoundRobin:
		idx := (atomic.AddUint64(&p.counter, 1) - 1) % uint64(len(live))
		return live[idx], nil
	case Random:
		p.rngMu.Lock()
		idx := p.rng.Intn(len(live))
		p.rngMu.Unlock()
		return live[idx], nil
	case LeastBusy:
		best := live[0]
		for _, c := range live[1:] {
			if c.Pending() < best.Pending() {
				best = c
			}
		}
		return best, nil
	default:
		return nil, fmt.Errorf("pool: unknown strategy %d", p.strategy)
	}
}

// Checkin is a no-op: the Pool never leases a Connection exclusively, since
// its Tracker is concurrent-safe and happy to be shared. It exists so
// callers can write checkout/checkin pairs symmetrically.
func (p *Pool) Checkin(*mcpclient.Connection) {}

// Transaction checks out a Connection, invokes fn with it, and checks it
// back in on every exit path.
func (p *Pool) Transaction(fn func(*mcpclient.Connection) error) error {
	conn, err := p.Checkout()
	if err != nil {
		return err
	}
	defer p.Checkin(conn)
	return fn(conn)
}

// AddConnection adds conn to the pool's set.
func (p *Pool) AddConnection(conn *mcpclient.Connection) {
	p.mu.Lock()
	p.conns = append(p.conns, conn)
	p.mu.Unlock()
}

// RemoveConnection removes conn from the pool's set, if present. It does
// not disconnect conn; callers that want that should call conn.Disconnect
// themselves.
func (p *Pool) RemoveConnection(conn *mcpclient.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.conns {
		if c == conn {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			return
		}
	}
}

// Size reports the total number of Connections in the pool's set,
// regardless of liveness.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

func (p *Pool) live() []*mcpclient.Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*mcpclient.Connection, 0, len(p.conns))
	for _, c := range p.conns {
		if c.Status() != mcpclient.StatusDisconnected {
			out = append(out, c)
		}
	}
	return out
}

// Close disconnects every Connection in the pool.
func (p *Pool) Close() {
	p.mu.RLock()
	conns := append([]*mcpclient.Connection(nil), p.conns...)
	p.mu.RUnlock()
	disconnectAll(conns)
}
