// Package notifier fans out record snapshots to subscribers, per record and
// for the whole collection.
package notifier

import (
	"sync"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

// collectionBuffer is the channel size of collection-wide subscriptions.
const collectionBuffer = 64

// Notifier delivers full record snapshots. Delivery never blocks the
// publisher: when a listener's buffer is full the oldest snapshot is dropped,
// so a slow listener always ends up with the latest one.
type Notifier struct {
	mu      sync.RWMutex
	records map[string]map[chan *core.Record]struct{}
	all     map[chan *core.Record]struct{}
}

// New creates a new Notifier instance.
func New() *Notifier {
	return &Notifier{
		records: make(map[string]map[chan *core.Record]struct{}),
		all:     make(map[chan *core.Record]struct{}),
	}
}

// Subscribe returns a channel receiving every snapshot of one record.
// The returned func unsubscribes and closes the channel.
func (n *Notifier) Subscribe(recordID string) (<-chan *core.Record, func()) {
	ch := make(chan *core.Record, 1)
	n.mu.Lock()
	set, ok := n.records[recordID]
	if !ok {
		set = make(map[chan *core.Record]struct{})
		n.records[recordID] = set
	}
	set[ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.records[recordID], ch)
			if len(n.records[recordID]) == 0 {
				delete(n.records, recordID)
			}
			n.mu.Unlock()
			close(ch)
		})
	}
}

// SubscribeAll returns a channel receiving snapshots of every record.
func (n *Notifier) SubscribeAll() (<-chan *core.Record, func()) {
	ch := make(chan *core.Record, collectionBuffer)
	n.mu.Lock()
	n.all[ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.all, ch)
			n.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers a copy of rec to its record listeners and to collection
// listeners. Listeners share the copy and must not modify it.
func (n *Notifier) Publish(rec *core.Record) {
	snapshot := rec.Clone()

	n.mu.RLock()
	defer n.mu.RUnlock()

	for ch := range n.records[rec.ID] {
		deliver(ch, snapshot)
	}
	for ch := range n.all {
		deliver(ch, snapshot)
	}
}

// Count returns the number of active subscriptions.
func (n *Notifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	count := len(n.all)
	for _, set := range n.records {
		count += len(set)
	}
	return count
}

func deliver(ch chan *core.Record, rec *core.Record) {
	for {
		select {
		case ch <- rec:
			return
		default:
		}
		// Channel full, drop the oldest snapshot and try again.
		select {
		case <-ch:
		default:
		}
	}
}
