// Package sse implements a Server-Sent Events broker that delivers events to
// the streams of one topic.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event is one SSE message.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type subscription struct {
	topic string
	ch    chan []byte
}

type publishReq struct {
	topic string
	event Event
}

type countReq struct {
	topic string // empty counts every stream
	resp  chan int
}

// Broker routes events to the streams subscribed to a topic.
//
// Concurrency model: a single internal event loop (goroutine) owns the
// subscriber table. Public methods communicate with this loop through
// channels, so no mutexes are required.
type Broker struct {
	keepAlive time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan subscription
	publishCh     chan publishReq
	countReqCh    chan countReq

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. Streams served by it send a comment line
// every keepAlive to hold idle connections open.
func NewBroker(keepAlive time.Duration) *Broker {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}

	b := &Broker{
		keepAlive:     keepAlive,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan subscription),
		publishCh:     make(chan publishReq, 256),
		countReqCh:    make(chan countReq),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

// Format encodes event in the SSE wire format.
func Format(event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("sse: encode %s: %w", event.Type, err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	topics := make(map[string]map[chan []byte]struct{})

	deliver := func(req publishReq) {
		subs := topics[req.topic]
		if len(subs) == 0 {
			return
		}
		raw, err := Format(req.event)
		if err != nil {
			return
		}
		for ch := range subs {
			select {
			case ch <- raw:
				continue
			default:
			}
			// Buffer full: drop the oldest message so the newest state
			// always gets through.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- raw:
			default:
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for _, subs := range topics {
				for ch := range subs {
					close(ch)
				}
			}
			return

		case sub := <-b.subscribeCh:
			subs := topics[sub.topic]
			if subs == nil {
				subs = make(map[chan []byte]struct{})
				topics[sub.topic] = subs
			}
			subs[sub.ch] = struct{}{}

		case sub := <-b.unsubscribeCh:
			subs := topics[sub.topic]
			if _, ok := subs[sub.ch]; ok {
				delete(subs, sub.ch)
				close(sub.ch)
				if len(subs) == 0 {
					delete(topics, sub.topic)
				}
			}

		case req := <-b.publishCh:
			deliver(req)

		case req := <-b.countReqCh:
			if req.topic != "" {
				req.resp <- len(topics[req.topic])
				continue
			}
			n := 0
			for _, subs := range topics {
				n += len(subs)
			}
			req.resp <- n
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a stream to topic and returns its channel.
func (b *Broker) Subscribe(topic string) chan []byte {
	ch := make(chan []byte, 16)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{topic: topic, ch: ch}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a stream and closes its channel.
func (b *Broker) Unsubscribe(topic string, ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- subscription{topic: topic, ch: ch}:
	case <-b.stopped:
	}
}

// ClientCount returns the number of streams on topic, or on every topic
// when topic is empty.
func (b *Broker) ClientCount(topic string) int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- countReq{topic: topic, resp: resp}:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends event to every stream on topic.
func (b *Broker) Publish(topic string, event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- publishReq{topic: topic, event: event}:
	case <-b.stopped:
	}
}

// ServeTopic streams topic to w until the request ends. initial, when not
// nil, is called once the stream is subscribed and its event is written
// first, so nothing published in between is missed.
func (b *Broker) ServeTopic(w http.ResponseWriter, r *http.Request, topic string, initial func() Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := b.Subscribe(topic)
	defer b.Unsubscribe(topic, ch)

	if initial != nil {
		if raw, err := Format(initial()); err == nil {
			_, _ = w.Write(raw)
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(b.keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
