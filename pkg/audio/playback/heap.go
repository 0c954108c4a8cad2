package playback

import "github.com/MrWong99/handsfree/pkg/audio"

// queued wraps a reply with its scheduling order.
type queued struct {
	reply *audio.Reply
	seq   uint64
}

// replyHeap is a max-heap by priority with FIFO tie-breaking on seq.
// It implements [container/heap.Interface].
type replyHeap []queued

func (h replyHeap) Len() int { return len(h) }

func (h replyHeap) Less(i, j int) bool {
	if h[i].reply.Priority != h[j].reply.Priority {
		return h[i].reply.Priority > h[j].reply.Priority
	}
	return h[i].seq < h[j].seq
}

func (h replyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *replyHeap) Push(x any) { *h = append(*h, x.(queued)) }

func (h *replyHeap) Pop() any {
	old := *h
	n := len(old)
	q := old[n-1]
	old[n-1] = queued{}
	*h = old[:n-1]
	return q
}
