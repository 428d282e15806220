package audiobook

import (
	"slices"
	"sync"
)

// Listener receives state snapshots.
type Listener func(State)

type subscriber struct {
	id    int
	fn    Listener
	since uint64
}

type delivery struct {
	state  State
	seq    uint64
	target int
}

// Publisher holds the current State and fans snapshots out to listeners.
//
// Changes are queued in commit order and drained by one goroutine at a time,
// so every listener sees snapshots in the same order they were applied. A
// listener may read or even change state from inside its callback; the
// nested change is delivered after the current one finishes.
type Publisher struct {
	mu          sync.Mutex
	state       State
	seq         uint64
	nextID      int
	subscribers []subscriber
	pending     []delivery
	draining    bool
}

// NewPublisher returns a publisher holding the idle state.
func NewPublisher() *Publisher {
	return &Publisher{state: idleState()}
}

// Snapshot returns a copy of the current state.
func (p *Publisher) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Subscribe registers fn, queues the current snapshot for it, and returns an
// idempotent unsubscribe function. When no other goroutine is delivering,
// the snapshot reaches fn before Subscribe returns. Otherwise the active
// drainer delivers it, ahead of any later change; Subscribe does not wait,
// so a listener can subscribe from inside its own callback.
func (p *Publisher) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subscribers = append(p.subscribers, subscriber{id: id, fn: fn, since: p.seq})
	p.pending = append(p.pending, delivery{state: p.state, seq: p.seq, target: id})
	p.mu.Unlock()
	p.flush()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.subscribers = slices.DeleteFunc(p.subscribers, func(s subscriber) bool { return s.id == id })
		})
	}
}

// apply mutates the state and queues the resulting snapshot. Callers must
// call flush afterwards, outside any lock of their own.
func (p *Publisher) apply(mutate func(*State)) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	mutate(&p.state)
	p.seq++
	p.pending = append(p.pending, delivery{state: p.state, seq: p.seq})
	return p.state
}

func (p *Publisher) flush() {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return
	}
	p.draining = true
	p.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			p.mu.Lock()
			p.draining = false
			p.mu.Unlock()
			panic(r)
		}
	}()

	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			p.draining = false
			p.mu.Unlock()
			return
		}
		d := p.pending[0]
		p.pending = p.pending[1:]
		targets := make([]Listener, 0, len(p.subscribers))
		for _, s := range p.subscribers {
			switch {
			case d.target != 0 && s.id == d.target:
				targets = append(targets, s.fn)
			case d.target == 0 && d.seq > s.since:
				targets = append(targets, s.fn)
			}
		}
		p.mu.Unlock()

		for _, fn := range targets {
			fn(d.state)
		}
	}
}
