package local

import (
	"sync"

	"gitea.jw6.us/james/gamereview/internal/identity"
)

// hub fans out auth state changes to the subscribers of each browser client.
// Deliveries for one client run on a single goroutine in the order they were
// queued; different clients drain independently.
type hub struct {
	mu      sync.Mutex
	clients map[string]*mailbox
	closed  bool
	wg      sync.WaitGroup
}

type mailbox struct {
	queue   []delivery
	subs    map[uint64]func(identity.Notification)
	order   []uint64
	nextID  uint64
	running bool
}

// delivery is a queued notification. When load is set the notification is
// computed at delivery time. A non-zero target restricts it to one subscriber.
type delivery struct {
	target uint64
	n      identity.Notification
	load   func() identity.Notification
}

func newHub() *hub {
	return &hub{clients: make(map[string]*mailbox)}
}

// subscribe registers fn for clientID and queues an initial delivery, computed
// by load, for fn alone.
func (h *hub) subscribe(clientID string, fn func(identity.Notification), load func() identity.Notification) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return func() {}
	}

	mb := h.mailboxLocked(clientID)
	mb.nextID++
	id := mb.nextID
	mb.subs[id] = fn
	mb.order = append(mb.order, id)
	h.enqueueLocked(clientID, mb, delivery{target: id, load: load})

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(clientID, id) })
	}
}

func (h *hub) unsubscribe(clientID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	mb, ok := h.clients[clientID]
	if !ok {
		return
	}
	delete(mb.subs, id)
	for i, sid := range mb.order {
		if sid == id {
			mb.order = append(mb.order[:i], mb.order[i+1:]...)
			break
		}
	}
	if len(mb.subs) == 0 && !mb.running {
		delete(h.clients, clientID)
	}
}

// publish queues n for every current subscriber of clientID. Clients without
// subscribers are skipped.
func (h *hub) publish(clientID string, n identity.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	mb, ok := h.clients[clientID]
	if !ok || len(mb.subs) == 0 {
		return
	}
	h.enqueueLocked(clientID, mb, delivery{n: n})
}

func (h *hub) mailboxLocked(clientID string) *mailbox {
	mb, ok := h.clients[clientID]
	if !ok {
		mb = &mailbox{subs: make(map[uint64]func(identity.Notification))}
		h.clients[clientID] = mb
	}
	return mb
}

func (h *hub) enqueueLocked(clientID string, mb *mailbox, d delivery) {
	mb.queue = append(mb.queue, d)
	if mb.running {
		return
	}
	mb.running = true
	h.wg.Add(1)
	go h.drain(clientID, mb)
}

func (h *hub) drain(clientID string, mb *mailbox) {
	defer h.wg.Done()
	for {
		h.mu.Lock()
		if len(mb.queue) == 0 || h.closed {
			mb.queue = nil
			mb.running = false
			if len(mb.subs) == 0 && h.clients[clientID] == mb {
				delete(h.clients, clientID)
			}
			h.mu.Unlock()
			return
		}
		d := mb.queue[0]
		mb.queue = mb.queue[1:]
		h.mu.Unlock()

		n := d.n
		if d.load != nil {
			n = d.load()
		}

		h.mu.Lock()
		var targets []func(identity.Notification)
		if d.target != 0 {
			if fn, ok := mb.subs[d.target]; ok {
				targets = append(targets, fn)
			}
		} else {
			for _, id := range mb.order {
				targets = append(targets, mb.subs[id])
			}
		}
		h.mu.Unlock()

		for _, fn := range targets {
			fn(n)
		}
	}
}

// close drops pending deliveries and waits for running drains to finish.
func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.wg.Wait()
}
