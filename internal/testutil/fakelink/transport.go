package fakelink

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/crtplink/internal/link"
)

var ErrClosed = errors.New("fakelink: transport closed")

// Transport is an in-memory link.Transport. Inbound frames are delivered in
// order from one goroutine, as a radio driver would.
type Transport struct {
	// Respond, when set, is called for every sent frame; the frames it
	// returns are queued for delivery.
	Respond func(frame []byte) [][]byte

	id string

	mu        sync.Mutex
	recv      link.Receiver
	connected bool
	sent      [][]byte
	inbox     chan []byte
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewTransport(id string) *Transport {
	return &Transport{id: id}
}

func (t *Transport) ID() string {
	return t.id
}

func (t *Transport) Subscribe(r link.Receiver) {
	t.mu.Lock()
	t.recv = r
	t.mu.Unlock()
}

func (t *Transport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return nil
	}
	t.connected = true
	t.inbox = make(chan []byte, 256)
	t.done = make(chan struct{})
	t.wg.Add(1)
	go t.deliver(t.inbox, t.done)
	return nil
}

func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Send(frame []byte) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return ErrClosed
	}
	t.sent = append(t.sent, append([]byte(nil), frame...))
	respond := t.Respond
	t.mu.Unlock()

	if respond != nil {
		for _, r := range respond(frame) {
			t.Inject(r)
		}
	}
	return nil
}

// Inject queues one inbound frame.
func (t *Transport) Inject(frame []byte) {
	t.mu.Lock()
	inbox, done := t.inbox, t.done
	t.mu.Unlock()
	if inbox == nil {
		return
	}
	select {
	case inbox <- append([]byte(nil), frame...):
	case <-done:
	}
}

func (t *Transport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *Transport) Disconnect() error {
	return t.Drop(nil)
}

// Drop closes the transport and reports err to the receiver.
func (t *Transport) Drop(err error) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil
	}
	t.connected = false
	close(t.done)
	recv := t.recv
	t.mu.Unlock()

	t.wg.Wait()
	if recv != nil {
		recv.Disconnected(err)
	}
	return nil
}

func (t *Transport) deliver(inbox <-chan []byte, done <-chan struct{}) {
	defer t.wg.Done()
	for {
		select {
		case <-done:
			return
		case frame := <-inbox:
			t.mu.Lock()
			recv := t.recv
			t.mu.Unlock()
			if recv != nil {
				recv.Receive(frame)
			}
		}
	}
}
