package monitoring

import (
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/Aidin1998/vaultrisk/internal/risk"
)

// AlertBook is the in-memory alert set. Alerts are kept in insertion order,
// so queries return them in the order they were raised.
type AlertBook struct {
	mu    sync.RWMutex
	seq   uint64
	order *btree.Map[string, *risk.RiskAlert]
	keys  map[string]string
}

// NewAlertBook returns an empty alert book.
func NewAlertBook() *AlertBook {
	return &AlertBook{
		order: btree.NewMap[string, *risk.RiskAlert](32),
		keys:  make(map[string]string),
	}
}

// Add stores a copy of alert under its own id. Existing alerts are never
// merged or replaced.
func (b *AlertBook) Add(alert risk.RiskAlert) {
	stored := alert.Clone()

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.keys[alert.ID]; exists {
		return
	}
	b.seq++
	key := fmt.Sprintf("%020d:%s", b.seq, alert.ID)
	b.order.Set(key, &stored)
	b.keys[alert.ID] = key
}

// Get returns a copy of the alert with the given id.
func (b *AlertBook) Get(id string) (risk.RiskAlert, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	key, ok := b.keys[id]
	if !ok {
		return risk.RiskAlert{}, false
	}
	alert, _ := b.order.Get(key)
	return alert.Clone(), true
}

// Filter returns copies of the alerts accepted by keep, oldest first.
func (b *AlertBook) Filter(keep func(*risk.RiskAlert) bool) []risk.RiskAlert {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := []risk.RiskAlert{}
	b.order.Scan(func(_ string, alert *risk.RiskAlert) bool {
		if keep == nil || keep(alert) {
			out = append(out, alert.Clone())
		}
		return true
	})
	return out
}

// Acknowledge moves an alert to the terminal acknowledged state. It fails for
// unknown ids, already acknowledged alerts and an empty acknowledger.
func (b *AlertBook) Acknowledge(id, by string, at time.Time) bool {
	if by == "" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	key, ok := b.keys[id]
	if !ok {
		return false
	}
	alert, _ := b.order.Get(key)
	if alert.Acknowledged {
		return false
	}
	ackAt := at
	alert.Acknowledged = true
	alert.AcknowledgedBy = by
	alert.AcknowledgedAt = &ackAt
	return true
}

// Len returns the number of stored alerts.
func (b *AlertBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.order.Len()
}
