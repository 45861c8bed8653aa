package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	if b.ClientCount("") != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe("c1")
	if b.ClientCount("c1") != 1 || b.ClientCount("") != 1 {
		t.Fatalf("expected 1 client")
	}
	if b.ClientCount("c2") != 0 {
		t.Fatalf("expected 0 clients on another topic")
	}
	b.Unsubscribe("c1", ch)
	if b.ClientCount("c1") != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishIsTopicScoped(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	mine := b.Subscribe("c1")
	defer b.Unsubscribe("c1", mine)
	other := b.Subscribe("c2")
	defer b.Unsubscribe("c2", other)

	b.Publish("c1", Event{Type: "render", Data: map[string]string{"app": "<p>hi</p>"}})

	select {
	case msg := <-mine:
		s := string(msg)
		if !strings.Contains(s, "event: render") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"app":"<p>hi</p>"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}

	// Sync with the loop before checking the other topic.
	_ = b.ClientCount("")
	select {
	case msg := <-other:
		t.Errorf("other topic received %q", msg)
	default:
	}
}

func TestFullBufferKeepsNewest(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("c1")
	defer b.Unsubscribe("c1", ch)

	for i := 0; i < 40; i++ {
		b.Publish("c1", Event{Type: "render", Data: map[string]int{"generation": i}})
	}
	deadline := time.After(time.Second)
	for {
		select {
		case msg := <-ch:
			if strings.Contains(string(msg), `"generation":39`) {
				return
			}
		case <-deadline:
			t.Fatal("newest event was dropped")
		}
	}
}

type flushRecorder struct {
	*httptest.ResponseRecorder
	mu sync.Mutex
}

func (f *flushRecorder) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ResponseRecorder.Write(p)
}

func (f *flushRecorder) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ResponseRecorder.Flush()
}

func (f *flushRecorder) body() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Body.String()
}

func TestServeTopic(t *testing.T) {
	b := NewBroker(20 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := &flushRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		b.ServeTopic(w, req, "c1", func() Event {
			return Event{Type: "render", Data: map[string]int{"generation": 1}}
		})
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for b.ClientCount("c1") != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if b.ClientCount("c1") != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish("c1", Event{Type: "render", Data: map[string]int{"generation": 2}})
	time.Sleep(60 * time.Millisecond)

	cancel()
	<-done

	body := w.body()
	first := strings.Index(body, `"generation":1`)
	second := strings.Index(body, `"generation":2`)
	if first < 0 || second < first {
		t.Errorf("handler output out of order: %q", body)
	}
	if !strings.Contains(body, ": keepalive") {
		t.Errorf("no keepalive in %q", body)
	}
	if w.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("content type = %q", w.Header().Get("Content-Type"))
	}

	time.Sleep(20 * time.Millisecond)
	if b.ClientCount("") != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(time.Second)
	ch := b.Subscribe("c1")
	if b.ClientCount("") != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount("") != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish("c1", Event{Type: "render", Data: nil})
	if ch := b.Subscribe("c1"); ch == nil {
		t.Fatal("nil channel after close")
	}
}
