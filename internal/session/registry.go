package session

import (
	"sync"

	"github.com/codexmonitor/daemon/internal/rpc"
)

// RequestContext is what the Registry remembers about an in-flight request:
// which workspace issued it and which method it called, so a later response
// can be routed and, for thread/list, specially interpreted (§4.2 rule 1).
type RequestContext struct {
	WorkspaceID string
	Method      string
}

type pendingResult struct {
	msg rpc.Message
	err error
}

// registry is the Request Registry (component C): it allocates monotonic
// request ids and holds single-shot result slots plus the matching
// RequestContext for each in-flight request. pending and requestContext
// share one mutex because every mutation touches both together and for the
// same duration (insert-then-write, removed exactly once) — see DESIGN.md
// (internal/session decisions) for why this does not violate the "never
// hold more than one of these locks across an I/O await" rule: no I/O
// happens while either map is held.
type registry struct {
	mu             sync.Mutex
	nextID         uint64
	pending        map[uint64]chan pendingResult
	requestContext map[uint64]RequestContext
}

func newRegistry() *registry {
	return &registry{
		nextID:         1,
		pending:        make(map[uint64]chan pendingResult),
		requestContext: make(map[uint64]RequestContext),
	}
}

// allocate reserves the next id and inserts its slot + context, returning
// the id and a channel that will receive exactly one pendingResult.
func (r *registry) allocate(ctx RequestContext) (uint64, chan pendingResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	ch := make(chan pendingResult, 1)
	r.pending[id] = ch
	r.requestContext[id] = ctx
	return id, ch
}

// popContext removes and returns the RequestContext for id, if present.
// Used by the dispatcher before delivering a response (§4.2 rule 1), which
// pops the context before popping pending so thread/list handling has the
// originating workspace id available.
func (r *registry) popContext(id uint64) (RequestContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.requestContext[id]
	delete(r.requestContext, id)
	return ctx, ok
}

// peekContext returns the RequestContext for id without removing it.
func (r *registry) peekContext(id uint64) (RequestContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.requestContext[id]
	return ctx, ok
}

// deliver pops the slot for id (if any) and sends result into it. Returns
// false if no slot was pending (already resolved by timeout or shutdown).
func (r *registry) deliver(id uint64, result pendingResult) bool {
	r.mu.Lock()
	ch, ok := r.pending[id]
	delete(r.pending, id)
	delete(r.requestContext, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- result
	return true
}

// cancelOne removes id's slot (if still present) and resolves it with err.
// Used by the per-request timeout path.
func (r *registry) cancelOne(id uint64, err error) {
	r.mu.Lock()
	ch, ok := r.pending[id]
	delete(r.pending, id)
	delete(r.requestContext, id)
	r.mu.Unlock()
	if ok {
		ch <- pendingResult{err: err}
	}
}

// sweep drains every still-pending slot with err, for use on process exit
// or explicit close (§4.6 shutdown, §4.1 "on process exit... drops all
// slots, causing RequestCanceled").
func (r *registry) sweep(err error) {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[uint64]chan pendingResult)
	r.requestContext = make(map[uint64]RequestContext)
	r.mu.Unlock()

	for _, ch := range pending {
		ch <- pendingResult{err: err}
	}
}
