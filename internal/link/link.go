// Package link owns the transport and routes inbound CRTP packets to one
// handler per port.
package link

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/danmuck/crtplink/internal/logging"
	"github.com/danmuck/crtplink/internal/observability"
	"github.com/danmuck/crtplink/internal/protocol/crtp"
)

var (
	ErrNotConnected = errors.New("link: not connected")
	ErrUnknownPort  = errors.New("link: no handler for port")
	ErrPortInUse    = errors.New("link: port already has a handler")
)

// Receiver is notified by a Transport. Receive is called from a single
// delivery goroutine, one frame at a time.
type Receiver interface {
	Receive(frame []byte)
	Disconnected(err error)
}

// Transport moves encoded CRTP frames.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Send(frame []byte) error
	Subscribe(r Receiver)
	IsConnected() bool
	ID() string
}

// Conn is the outbound view handed to protocol stores.
type Conn interface {
	crtp.Sender
	Connected() bool
}

// Handler consumes packets for one port.
type Handler interface {
	HandlePacket(p crtp.Packet) error
}

type HandlerFunc func(p crtp.Packet) error

func (f HandlerFunc) HandlePacket(p crtp.Packet) error {
	return f(p)
}

type Stats struct {
	Received uint64
	Sent     uint64
	Dropped  uint64
}

// Link implements Conn and Receiver over one Transport.
type Link struct {
	transport Transport

	mu           sync.RWMutex
	handlers     [crtp.PortCount]Handler
	onDisconnect []func(error)

	received atomic.Uint64
	sent     atomic.Uint64
	dropped  atomic.Uint64
}

func New(t Transport) *Link {
	l := &Link{transport: t}
	t.Subscribe(l)
	return l
}

// Register installs h for port. A port holds at most one handler.
func (l *Link) Register(port crtp.Port, h Handler) error {
	if !port.Known() {
		return fmt.Errorf("%w: %d", crtp.ErrInvalidPacket, port)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handlers[port] != nil {
		return fmt.Errorf("%w: %s", ErrPortInUse, port)
	}
	l.handlers[port] = h
	return nil
}

func (l *Link) Deregister(port crtp.Port) {
	if !port.Known() {
		return
	}
	l.mu.Lock()
	l.handlers[port] = nil
	l.mu.Unlock()
}

// OnDisconnect adds fn to the callbacks run when the transport goes down.
func (l *Link) OnDisconnect(fn func(error)) {
	l.mu.Lock()
	l.onDisconnect = append(l.onDisconnect, fn)
	l.mu.Unlock()
}

func (l *Link) Connect(ctx context.Context) error {
	if err := l.transport.Connect(ctx); err != nil {
		return fmt.Errorf("link: connect %s: %w", l.transport.ID(), err)
	}
	logging.Infof("link.Link.Connect id=%q", l.transport.ID())
	return nil
}

func (l *Link) Disconnect() error {
	return l.transport.Disconnect()
}

func (l *Link) Connected() bool {
	return l.transport.IsConnected()
}

func (l *Link) ID() string {
	return l.transport.ID()
}

func (l *Link) Stats() Stats {
	return Stats{
		Received: l.received.Load(),
		Sent:     l.sent.Load(),
		Dropped:  l.dropped.Load(),
	}
}

// Send encodes p and hands it to the transport.
func (l *Link) Send(p crtp.Packet) error {
	if !l.transport.IsConnected() {
		return fmt.Errorf("%w: send %s", ErrNotConnected, p.Port)
	}
	frame, err := crtp.Encode(p)
	if err != nil {
		return err
	}
	if err := l.transport.Send(frame); err != nil {
		return fmt.Errorf("link: send %s: %w", p.Port, err)
	}
	l.sent.Add(1)
	observability.RecordPacket("tx", p.Port.String())
	logging.Tracef("link.Link.Send port=%s ch=%d len=%d", p.Port, p.Channel, len(p.Payload))
	return nil
}

// Receive decodes one frame and dispatches it. Problems are logged and the
// frame is dropped.
func (l *Link) Receive(frame []byte) {
	p, err := crtp.Decode(frame)
	if err != nil {
		l.drop("unknown", "malformed")
		logging.Warnf("link.Link.Receive malformed frame len=%d err=%v", len(frame), err)
		return
	}
	l.received.Add(1)
	observability.RecordPacket("rx", p.Port.String())

	l.mu.RLock()
	h := l.handlers[p.Port]
	l.mu.RUnlock()
	if h == nil {
		l.drop(p.Port.String(), "unhandled")
		logging.Debugf("link.Link.Receive %v port=%s ch=%d", ErrUnknownPort, p.Port, p.Channel)
		return
	}
	if err := h.HandlePacket(p); err != nil {
		l.drop(p.Port.String(), "rejected")
		logging.Warnf("link.Link.Receive port=%s ch=%d err=%v", p.Port, p.Channel, err)
	}
}

// Disconnected runs the registered callbacks.
func (l *Link) Disconnected(err error) {
	logging.Warnf("link.Link.Disconnected id=%q err=%v", l.transport.ID(), err)
	l.mu.RLock()
	fns := slices.Clone(l.onDisconnect)
	l.mu.RUnlock()
	if err == nil {
		err = ErrNotConnected
	}
	for _, fn := range fns {
		fn(err)
	}
}

func (l *Link) drop(port, reason string) {
	l.dropped.Add(1)
	observability.RecordDrop(port, reason)
}
