package buffer

import (
	"sync"

	v1 "mirsal/pkg/api/v1"
)

// EventBuffer keeps the most recent queue events so an SSE watcher can catch
// up after a short disconnect. Sequences are contiguous, so the slice offset
// for a given seq is computed directly instead of searched.
type EventBuffer struct {
	mu     sync.RWMutex
	events []v1.QueueEvent
	size   int
	next   int
	count  int
}

func NewEventBuffer(size int) *EventBuffer {
	if size <= 0 {
		size = 256
	}
	return &EventBuffer{
		events: make([]v1.QueueEvent, size),
		size:   size,
	}
}

func (b *EventBuffer) Add(ev v1.QueueEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[b.next] = ev
	b.next = (b.next + 1) % b.size
	if b.count < b.size {
		b.count++
	}
}

// Since returns all buffered events with Seq > lastSeq. The second return is
// false when lastSeq has already been evicted and the caller should resync
// from current state instead.
func (b *EventBuffer) Since(lastSeq int64) ([]v1.QueueEvent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return nil, true
	}

	start := (b.next - b.count + b.size) % b.size
	oldest := b.events[start].Seq
	newest := b.events[(b.next-1+b.size)%b.size].Seq

	if lastSeq >= newest {
		return nil, true
	}
	if lastSeq < oldest-1 {
		return nil, false
	}

	skip := int(lastSeq - oldest + 1)
	out := make([]v1.QueueEvent, 0, b.count-skip)
	for i := skip; i < b.count; i++ {
		out = append(out, b.events[(start+i)%b.size])
	}
	return out, true
}
