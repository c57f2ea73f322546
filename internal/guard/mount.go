package guard

import (
	"sync"

	"gitea.jw6.us/james/gamereview/internal/session"
)

// Mounted is a guard on an open page. It re-evaluates on every session
// change, so a page that is already showing protected content is redirected
// when the session signs out elsewhere.
type Mounted struct {
	store *session.Store
	path  string
	ch    chan Decision

	mu      sync.Mutex
	last    Decision
	hasLast bool
	closed  bool

	unsubscribe func()
	closeOnce   sync.Once
}

// Mount starts guarding path on s. The first decision is available on
// Decisions immediately.
func Mount(s *session.Store, path string) *Mounted {
	m := &Mounted{store: s, path: path, ch: make(chan Decision, 1)}
	m.unsubscribe = s.Subscribe(func(session.State) { m.reevaluate() })
	m.reevaluate()
	return m
}

// Decisions delivers each new decision. Only the latest undelivered decision
// is kept; repeated identical decisions are dropped.
func (m *Mounted) Decisions() <-chan Decision {
	return m.ch
}

// Current returns the most recent decision.
func (m *Mounted) Current() Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// reevaluate decides on the store's current state. A Mount that lands while
// a change is being delivered may see that change twice; the duplicate is
// dropped.
func (m *Mounted) reevaluate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	d := Evaluate(m.store.Snapshot(), m.path)
	if m.hasLast && d == m.last {
		return
	}
	m.last, m.hasLast = d, true
	if d.Outcome == Redirect {
		m.store.SetPendingRedirect(d.Target)
	}

	select {
	case m.ch <- d:
	default:
		select {
		case <-m.ch:
		default:
		}
		m.ch <- d
	}
}

// Close stops re-evaluation. It is safe to call more than once.
func (m *Mounted) Close() {
	m.closeOnce.Do(func() {
		m.unsubscribe()
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
	})
}
