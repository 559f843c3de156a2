package queue

import (
	"sync/atomic"
	"time"

	"mirsal/internal/buffer"
	v1 "mirsal/pkg/api/v1"
	"mirsal/pkg/logger"
)

type Subscriber struct {
	Send chan v1.QueueEvent
}

// Hub fans queue events out to SSE watchers and callback subscribers. A
// subscriber whose channel is full is dropped rather than ever blocking the
// queue.
type Hub struct {
	clients    map[*Subscriber]bool
	Broadcast  chan v1.QueueEvent
	Register   chan *Subscriber
	Unregister chan *Subscriber

	seq     atomic.Int64
	events  *buffer.EventBuffer
	sendBuf int
}

func NewHub(eventBufferSize, sendBufferSize int) *Hub {
	if sendBufferSize <= 0 {
		sendBufferSize = 64
	}
	return &Hub{
		clients:    make(map[*Subscriber]bool),
		Broadcast:  make(chan v1.QueueEvent),
		Register:   make(chan *Subscriber),
		Unregister: make(chan *Subscriber),
		events:     buffer.NewEventBuffer(eventBufferSize),
		sendBuf:    sendBufferSize,
	}
}

func (h *Hub) NewSubscriber() *Subscriber {
	return &Subscriber{Send: make(chan v1.QueueEvent, h.sendBuf)}
}

// Publish stamps the event with the next sequence number, records it for
// catch-up, and hands it to the run loop.
func (h *Hub) Publish(ev v1.QueueEvent) {
	ev.Seq = h.seq.Add(1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	h.events.Add(ev)
	h.Broadcast <- ev
}

// EventsSince replays buffered events newer than lastSeq; ok=false means the
// watcher is too far behind and should resync from current stats.
func (h *Hub) EventsSince(lastSeq int64) ([]v1.QueueEvent, bool) {
	return h.events.Since(lastSeq)
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true
		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
		case ev := <-h.Broadcast:
			for client := range h.clients {
				select {
				case client.Send <- ev:
				default:
					logger.Warn("queue event subscriber too slow, dropping")
					close(client.Send)
					delete(h.clients, client)
				}
			}
		}
	}
}
