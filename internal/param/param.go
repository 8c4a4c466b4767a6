// Package param reads and writes device parameters over the param port.
package param

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/crtplink/internal/link"
	"github.com/danmuck/crtplink/internal/logging"
	"github.com/danmuck/crtplink/internal/protocol/crtp"
	"github.com/danmuck/crtplink/internal/protocol/scalar"
	"github.com/danmuck/crtplink/internal/protocol/toc"
	"github.com/danmuck/crtplink/internal/registry"
)

const (
	ChannelTOC   crtp.Channel = 0
	ChannelRead  crtp.Channel = 1
	ChannelWrite crtp.Channel = 2
	ChannelMisc  crtp.Channel = 3
)

var (
	ErrNotConnected   = link.ErrNotConnected
	ErrPrecondition   = errors.New("param: precondition violated")
	ErrUnknownParam   = errors.New("param: unknown param")
	ErrUnknownChannel = errors.New("param: unknown channel")
	ErrMalformed      = errors.New("param: malformed response")
)

// UpdateFunc observes a value confirmed by the device, from either a read
// response or a write ack.
type UpdateFunc func(v *registry.Variable, val scalar.Value)

type Store struct {
	conn   link.Conn
	reg    *registry.Registry
	syncer *toc.Synchronizer

	mu     sync.Mutex
	nextID int
	subs   map[int]UpdateFunc
}

func NewStore(conn link.Conn, cache toc.Cache) *Store {
	reg := registry.New(toc.ParamNamespace.Name)
	return &Store{
		conn:   conn,
		reg:    reg,
		syncer: toc.NewSynchronizer(toc.ParamNamespace, conn, reg, cache),
		subs:   make(map[int]UpdateFunc),
	}
}

func (s *Store) Registry() *registry.Registry {
	return s.reg
}

// SyncTOC starts the param directory fetch.
func (s *Store) SyncTOC(device string, force bool, done func(toc.Result)) error {
	return s.syncer.Start(device, force, done)
}

func (s *Store) TOCState() toc.State {
	return s.syncer.State()
}

// Abort drops an in-flight directory fetch.
func (s *Store) Abort() {
	s.syncer.Abort()
}

// Subscribe registers fn for confirmed values and returns its cancel.
func (s *Store) Subscribe(fn UpdateFunc) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Write converts value to v's declared kind and asks the device to store
// it. The cached value changes only when the ack arrives.
func (s *Store) Write(v *registry.Variable, value scalar.Value) error {
	if !s.conn.Connected() {
		logging.Warnf("param.Store.Write name=%q %v", v.Key(), ErrNotConnected)
		return fmt.Errorf("%w: write %s", ErrNotConnected, v.Key())
	}
	if v.ReadOnly {
		return fmt.Errorf("%w: %s is read-only", ErrPrecondition, v.Key())
	}
	conv, err := value.Convert(v.Kind)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPrecondition, v.Key(), err)
	}
	v.SetExpected(conv)

	payload := idPayload(v.ID, conv.Bytes())
	if err := s.conn.Send(crtp.NewPacket(crtp.PortParam, ChannelWrite, payload)); err != nil {
		return fmt.Errorf("param: write %s: %w", v.Key(), err)
	}
	logging.Debugf("param.Store.Write name=%q id=%d value=%s", v.Key(), v.ID, conv)
	return nil
}

// WriteByName writes the param registered as "group/name".
func (s *Store) WriteByName(name string, value scalar.Value) error {
	v, ok := s.reg.ByName(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParam, name)
	}
	return s.Write(v, value)
}

// Read requests v's current value.
func (s *Store) Read(v *registry.Variable) error {
	if !s.conn.Connected() {
		return fmt.Errorf("%w: read %s", ErrNotConnected, v.Key())
	}
	if err := s.conn.Send(crtp.NewPacket(crtp.PortParam, ChannelRead, idPayload(v.ID, nil))); err != nil {
		return fmt.Errorf("param: read %s: %w", v.Key(), err)
	}
	return nil
}

func (s *Store) ReadByName(name string) error {
	v, ok := s.reg.ByName(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParam, name)
	}
	return s.Read(v)
}

// HandlePacket implements link.Handler for the param port.
func (s *Store) HandlePacket(p crtp.Packet) error {
	switch p.Channel {
	case ChannelTOC:
		return s.syncer.HandlePacket(p.Payload)
	case ChannelRead:
		return s.handleValue(p.Payload, false)
	case ChannelWrite:
		return s.handleValue(p.Payload, true)
	case ChannelMisc:
		logging.Debugf("param.Store.HandlePacket ignoring misc len=%d", len(p.Payload))
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownChannel, p.Channel)
	}
}

func (s *Store) handleValue(b []byte, ack bool) error {
	if len(b) < 2 {
		return fmt.Errorf("%w: %d bytes", ErrMalformed, len(b))
	}
	id := binary.LittleEndian.Uint16(b[0:2])
	v, ok := s.reg.ByID(id)
	if !ok {
		return fmt.Errorf("%w: id=%d", ErrUnknownParam, id)
	}
	val, err := v.Update(b[2:])
	if err != nil {
		return fmt.Errorf("param: %s: %w", v.Key(), err)
	}
	if ack {
		if want, ok := v.TakeExpected(); ok && !want.Equal(val) {
			logging.Warnf("param.Store.handleValue name=%q ack=%s expected=%s", v.Key(), val, want)
		}
	}
	logging.Debugf("param.Store.handleValue name=%q value=%s ack=%t", v.Key(), val, ack)

	s.mu.Lock()
	subs := make([]UpdateFunc, 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(v, val)
	}
	return nil
}

func idPayload(id uint16, value []byte) []byte {
	buf := make([]byte, 2, 2+len(value))
	binary.LittleEndian.PutUint16(buf, id)
	return append(buf, value...)
}
