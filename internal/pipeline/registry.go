package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/joseph-ayodele/trade-ingest/internal/common"
)

const (
	DefaultRetention = time.Hour

	subscriberBuffer = 16
)

// Registry holds batches in memory. Open batches never expire; closed ones are kept for the
// retention period so clients can still read the outcome. The last published status of each
// batch is kept beside it so readers never wait on a running batch.
type Registry struct {
	batches   *cache.Cache
	retention time.Duration

	mu   sync.Mutex
	next int
	subs map[uuid.UUID]map[int]chan Status
	last map[uuid.UUID]Status
}

func NewRegistry(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	r := &Registry{
		batches:   cache.New(retention, retention/2),
		retention: retention,
		subs:      make(map[uuid.UUID]map[int]chan Status),
		last:      make(map[uuid.UUID]Status),
	}
	r.batches.OnEvicted(func(key string, _ interface{}) {
		id, err := uuid.Parse(key)
		if err != nil {
			return
		}
		r.mu.Lock()
		delete(r.last, id)
		r.mu.Unlock()
	})
	return r
}

func (r *Registry) put(b *Batch) {
	r.batches.Set(b.id.String(), b, cache.NoExpiration)
}

// retire starts the retention clock for a closed batch.
func (r *Registry) retire(b *Batch) {
	r.batches.Set(b.id.String(), b, r.retention)
}

// Get returns the batch or common.ErrNotFound.
func (r *Registry) Get(id uuid.UUID) (*Batch, error) {
	v, ok := r.batches.Get(id.String())
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, common.ErrNotFound)
	}
	return v.(*Batch), nil
}

// Len is the number of batches held, open or retained.
func (r *Registry) Len() int { return r.batches.ItemCount() }

// Status returns the last published status of a batch.
func (r *Registry) Status(id uuid.UUID) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.last[id]
	return st, ok
}

// Subscribe returns the last published status of a batch and streams later changes. Slow
// subscribers miss intermediate states, never the latest one they read next. Call the returned
// func to stop.
func (r *Registry) Subscribe(id uuid.UUID) (Status, <-chan Status, func()) {
	ch := make(chan Status, subscriberBuffer)
	r.mu.Lock()
	current := r.last[id]
	key := r.next
	r.next++
	if r.subs[id] == nil {
		r.subs[id] = make(map[int]chan Status)
	}
	r.subs[id][key] = ch
	r.mu.Unlock()

	var once sync.Once
	return current, ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs[id], key)
			if len(r.subs[id]) == 0 {
				delete(r.subs, id)
			}
			r.mu.Unlock()
			close(ch)
		})
	}
}

// publish records st as the batch's current status and fans it out. Callers hold the batch
// lock so statuses land in order.
func (r *Registry) publish(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last[st.BatchID] = st
	for _, ch := range r.subs[st.BatchID] {
		select {
		case ch <- st:
		default:
			// drop the oldest so the newest state always lands
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}
