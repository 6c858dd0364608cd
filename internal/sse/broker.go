// Package sse implements a Server-Sent Events broker that relays note
// list changes to connected clients.
package sse

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/starford/notation/internal/notestore"
)

const (
	clientBuffer = 64
	backlogSize  = 64
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NoteData is the payload of note.* events.
type NoteData struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Title    string `json:"title"`
	Index    int    `json:"index"`
}

type outgoing struct {
	event Event
	// labels marks events that may change label counts.
	labels bool
}

type subscription struct {
	ch    chan []byte
	after uint64
}

type frame struct {
	seq uint64
	raw []byte
}

// Broker numbers and fans out events to SSE clients. The most recent
// frames are kept so a reconnecting client can resume from Last-Event-ID.
//
// A single goroutine owns the clients, the backlog and the label throttle;
// public methods talk to it over channels. Publishing is unbuffered, so an
// event is numbered before Publish returns.
type Broker struct {
	labelsMin time.Duration
	keepAlive time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	outCh         chan outgoing
	countCh       chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. labels.updated events are sent at most once
// per labelsThrottle.
func NewBroker(labelsThrottle time.Duration) *Broker {
	if labelsThrottle <= 0 {
		labelsThrottle = 2 * time.Second
	}
	b := &Broker{
		labelsMin:     labelsThrottle,
		keepAlive:     15 * time.Second,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		outCh:         make(chan outgoing),
		countCh:       make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.loop()
	return b
}

func eventType(k notestore.EventKind) string {
	switch k {
	case notestore.Added:
		return "note.added"
	case notestore.Updated:
		return "note.updated"
	case notestore.Removed:
		return "note.removed"
	case notestore.Reordered:
		return "list.reordered"
	}
	return ""
}

func encodeFrame(seq uint64, ev Event) ([]byte, bool) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, false
	}
	raw := make([]byte, 0, len(payload)+len(ev.Type)+32)
	raw = append(raw, "id: "...)
	raw = strconv.AppendUint(raw, seq, 10)
	raw = append(raw, "\nevent: "...)
	raw = append(raw, ev.Type...)
	raw = append(raw, "\ndata: "...)
	raw = append(raw, payload...)
	raw = append(raw, "\n\n"...)
	return raw, true
}

func (b *Broker) loop() {
	defer close(b.stopped)

	var (
		clients    = make(map[chan []byte]struct{})
		backlog    []frame
		seq        uint64
		lastLabels time.Time
	)

	emit := func(ev Event) {
		raw, ok := encodeFrame(seq+1, ev)
		if !ok {
			return
		}
		seq++
		backlog = append(backlog, frame{seq: seq, raw: raw})
		if len(backlog) > backlogSize {
			backlog = backlog[len(backlog)-backlogSize:]
		}
		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// slow client, drop
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = struct{}{}
			if sub.after == 0 {
				continue
			}
			for _, f := range backlog {
				if f.seq <= sub.after {
					continue
				}
				select {
				case sub.ch <- f.raw:
				default:
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case out := <-b.outCh:
			emit(out.event)
			if !out.labels {
				continue
			}
			if now := time.Now(); now.Sub(lastLabels) >= b.labelsMin {
				lastLabels = now
				emit(Event{Type: "labels.updated", Data: struct{}{}})
			}

		case resp := <-b.countCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client that receives events from now on.
func (b *Broker) Subscribe() chan []byte {
	return b.SubscribeAfter(0)
}

// SubscribeAfter adds a client and first replays the backlogged events
// numbered above lastID. Zero replays nothing.
func (b *Broker) SubscribeAfter(lastID uint64) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- subscription{ch: ch, after: lastID}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countCh <- resp:
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

func (b *Broker) send(out outgoing) {
	if b.closed.Load() {
		return
	}
	select {
	case b.outCh <- out:
	case <-b.stopped:
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	b.send(outgoing{event: event})
}

// PublishNoteEvent relays a store change. Note changes are followed by a
// throttled labels.updated event; reorders carry no payload.
func (b *Broker) PublishNoteEvent(ev notestore.Event) {
	typ := eventType(ev.Kind)
	if typ == "" {
		return
	}
	if ev.Kind == notestore.Reordered || ev.Note == nil {
		b.send(outgoing{event: Event{Type: typ, Data: struct{}{}}})
		return
	}
	data := NoteData{ID: ev.Note.ID, Filename: ev.Note.Filename, Title: ev.Note.Title, Index: ev.Index}
	b.send(outgoing{event: Event{Type: typ, Data: data}, labels: true})
}

// Listener returns a store listener relaying every event. It copies what
// it needs before returning, so it may run on the store's goroutine.
func (b *Broker) Listener() notestore.Listener {
	return b.PublishNoteEvent
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). A Last-Event-ID
// header resumes from the backlog.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var lastID uint64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid Last-Event-ID", http.StatusBadRequest)
			return
		}
		lastID = id
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.SubscribeAfter(lastID)
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
