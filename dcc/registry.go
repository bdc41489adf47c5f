package dcc

import (
	"sync"

	"github.com/rs/xid"
)

// Registry is the owned collection of every Transfer (spec §3.3's
// lifecycle, spec §9's "intrusive doubly-linked registry -> owned
// collection" redesign note). Transfers are identified by a stable
// github.com/rs/xid handle rather than prev/next pointers, and iterated
// newest-first to match the original's insertion order.
//
// The Scheduler goroutine is the only writer in steady state, but the
// status API (internal/statusapi, its own goroutines) reads the registry
// concurrently, so access is guarded by mu — grounded on
// iowait/main.go's sync.Mutex-guarded shared file, the one place in the
// teacher repo that protects state shared across goroutines.
type Registry struct {
	mu    sync.Mutex
	byID  map[xid.ID]*Transfer
	order []xid.ID // newest-first
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[xid.ID]*Transfer)}
}

// add inserts t at the front of the registry (newest-first, spec §3.3).
func (r *Registry) add(t *Transfer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.ID] = t
	r.order = append([]xid.ID{t.ID}, r.order...)
}

// Get looks up a Transfer by ID.
func (r *Registry) Get(id xid.ID) (*Transfer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	return t, ok
}

// All returns a newest-first snapshot slice. Safe to range over from any
// goroutine; mutating the returned Transfers still requires the caller to
// respect the "Scheduler-owns-mutation" rule above.
func (r *Registry) All() []*Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Transfer, 0, len(r.order))
	for _, id := range r.order {
		if t, ok := r.byID[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Find implements dcc_search (spec §4.3, §9 bug-note 1): it locates a
// Transfer matching all four fields by equality. The original's
// `ptr_dcc->status = status` assignment bug is deliberately NOT
// reproduced here.
func (r *Registry) Find(server ServerHandle, kind TransferKind, status TransferStatus, port uint16) (*Transfer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		t := r.byID[id]
		if t == nil {
			continue
		}
		if t.Server == server && t.Kind == kind && t.Status == status && t.PeerPort == port {
			return t, true
		}
	}
	return nil, false
}

// PortInUse reports whether any non-ended Transfer currently holds port p
// (spec §4.2, §8 property 4).
func (r *Registry) PortInUse(p uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		t := r.byID[id]
		if t == nil {
			continue
		}
		if t.PeerPort == p && !t.Status.Ended() {
			return true
		}
	}
	return false
}

// remove unlinks id from the registry (the second half of spec §4.10's
// Free operation). It does not close any resources; callers must have
// already torn the Transfer down.
func (r *Registry) remove(id xid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// chatChannelStillUsed reports whether any other Transfer in the registry
// is bound to the same chat channel handle — used by Free (spec §4.10) to
// decide whether to tear down the channel.
func (r *Registry) chatChannelStillUsed(self xid.ID, ch ChatChannelHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if id == self {
			continue
		}
		if t := r.byID[id]; t != nil && t.ChatChannel == ch && !t.Status.Ended() {
			return true
		}
	}
	return false
}
