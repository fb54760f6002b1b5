package session

import (
	"sync"

	"github.com/codexmonitor/daemon/internal/queue"
	"github.com/codexmonitor/daemon/internal/rpc"
)

// backgroundSubscribers implements the §4.5 background thread private
// streams: a caller registers an unbounded subscriber queue for a thread id
// before issuing turn/start, and every notification carrying that thread id
// is delivered only to the subscriber, never to the broadcast sink, until
// the caller unregisters. The queue is genuinely unbounded (internal/queue),
// not a bounded channel with a drop-on-full fallback, since §3 requires
// every notification for a registered thread to be delivered (P5).
type backgroundSubscribers struct {
	mu   sync.Mutex
	subs map[string]*queue.Unbounded[rpc.Message]
}

func newBackgroundSubscribers() *backgroundSubscribers {
	return &backgroundSubscribers{subs: make(map[string]*queue.Unbounded[rpc.Message])}
}

// register installs sub as the sole subscriber for threadID. A second
// registration on the same id replaces the first, whose queue is closed
// (§4.5: "the first is silently dropped").
func (b *backgroundSubscribers) register(threadID string) *queue.Unbounded[rpc.Message] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[threadID]; ok {
		old.Close()
	}
	sub := queue.NewUnbounded[rpc.Message]()
	b.subs[threadID] = sub
	return sub
}

// unregister removes and closes the subscriber for threadID, if any.
func (b *backgroundSubscribers) unregister(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[threadID]; ok {
		sub.Close()
		delete(b.subs, threadID)
	}
}

// deliver pushes msg to threadID's subscriber and reports whether one
// existed (and thus broadcast delivery must be suppressed). Push never
// blocks and never drops: the queue grows to hold every message until the
// subscriber drains it.
func (b *backgroundSubscribers) deliver(threadID string, msg rpc.Message) bool {
	b.mu.Lock()
	sub, ok := b.subs[threadID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	sub.Push(msg)
	return true
}
