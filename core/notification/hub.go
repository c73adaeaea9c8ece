package notification

import "sync"

// subscriptionBuffer is how many undelivered notifications a subscription holds before dropping new ones.
const subscriptionBuffer = 32

// Hub fans notifications out to the live subscriptions of this process.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]map[*Subscription]struct{} // {recipientID: subscriptions}
	observer Observer
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{}), observer: nopObserver{}}
}

// Subscription is one client session's push channel.
type Subscription struct {
	RecipientID string

	ch   chan Notification
	hub  *Hub
	once sync.Once
}

// C delivers the notifications published for the subscriber. It is closed by Close.
func (s *Subscription) C() <-chan Notification { return s.ch }

// Close detaches the subscription from its hub. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

func (h *Hub) Subscribe(recipientID string) *Subscription {
	s := &Subscription{RecipientID: recipientID, ch: make(chan Notification, subscriptionBuffer), hub: h}

	h.mu.Lock()
	set, ok := h.subs[recipientID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[recipientID] = set
	}
	set[s] = struct{}{}
	n := h.countLocked()
	h.mu.Unlock()

	h.observer.Subscribers(n)
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	if set, ok := h.subs[s.RecipientID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.RecipientID)
		}
	}
	close(s.ch)
	n := h.countLocked()
	h.mu.Unlock()

	h.observer.Subscribers(n)
}

// Deliver pushes n to every live subscription of its recipient without blocking.
// A subscriber that is not keeping up misses the notification; it stays available through listing.
func (h *Hub) Deliver(n Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[n.RecipientID] {
		select {
		case s.ch <- n:
		default:
			h.observer.Dropped()
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.countLocked()
}

func (h *Hub) countLocked() int {
	var n int
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}
