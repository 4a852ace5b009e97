package notify

import "sync"

// history keeps the most recent deliveries by correlation id, evicting the
// oldest once full.
type history struct {
	mu    sync.RWMutex
	limit int
	order []string
	byID  map[string]Delivery
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = 10000
	}
	return &history{limit: limit, byID: make(map[string]Delivery)}
}

func (h *history) put(d Delivery) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.byID[d.CorrelationID]; !ok {
		if len(h.order) >= h.limit {
			oldest := h.order[0]
			h.order = h.order[1:]
			delete(h.byID, oldest)
		}
		h.order = append(h.order, d.CorrelationID)
	}
	h.byID[d.CorrelationID] = d
}

func (h *history) get(id string) (Delivery, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.byID[id]
	return d, ok
}

func (h *history) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.order)
}
