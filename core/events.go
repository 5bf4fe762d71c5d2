package core

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType tags one entry of the world's event feed.
type EventType string

const (
	EventDeploy  EventType = "deploy"
	EventUpgrade EventType = "upgrade"
	EventCall    EventType = "call"
)

// Event is one observable state change at the world boundary, consumed by
// the websocket stream and the explorer index.
type Event struct {
	Seq            uint64         `json:"seq"`
	Type           EventType      `json:"type"`
	Instance       common.Address `json:"instance"`
	Implementation common.Address `json:"implementation,omitempty"`
	CodeRef        string         `json:"codeRef,omitempty"`
	Method         string         `json:"method,omitempty"`
	OK             bool           `json:"ok"`
	Reason         string         `json:"reason,omitempty"`
	Time           time.Time      `json:"time"`
}

const eventBuffer = 64

type eventFeed struct {
	mu   sync.Mutex
	seq  uint64
	next int
	subs map[int]chan Event
}

func newEventFeed() *eventFeed {
	return &eventFeed{subs: make(map[int]chan Event)}
}

func (f *eventFeed) publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	ev.Seq = f.seq
	ev.Time = time.Now().UTC()
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than stall the call path.
		}
	}
}

func (f *eventFeed) subscribe() (int, chan Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	ch := make(chan Event, eventBuffer)
	f.subs[id] = ch
	return id, ch
}

func (f *eventFeed) unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}

// Subscribe returns a channel of world events. The channel closes when ctx
// is cancelled or the returned cancel function runs.
func (w *World) Subscribe(ctx context.Context) (<-chan Event, func()) {
	id, ch := w.feed.subscribe()
	var once sync.Once
	cancel := func() {
		once.Do(func() { w.feed.unsubscribe(id) })
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel
}
