package controlplane

import "github.com/codexmonitor/daemon/internal/queue"

// outboundQueue is the per-connection unbounded write queue from §4.10:
// "each connection has its own write queue fed by an unbounded channel".
// It is a thin alias over internal/queue's generic Unbounded type.
type outboundQueue = queue.Unbounded[[]byte]

func newOutboundQueue() *outboundQueue {
	return queue.NewUnbounded[[]byte]()
}
