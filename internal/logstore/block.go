package logstore

import (
	"fmt"
	"time"

	"github.com/danmuck/crtplink/internal/protocol/crtp"
	"github.com/danmuck/crtplink/internal/protocol/scalar"
	"github.com/danmuck/crtplink/internal/registry"
)

type State int

const (
	StateCreated State = iota
	StateAdded
	StateStarted
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAdded:
		return "added"
	case StateStarted:
		return "started"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sample is one decoded data packet.
type Sample struct {
	Timestamp uint32
	Values    map[string]scalar.Value
}

type BlockOptions struct {
	// OnCreate fires once, on the first successful create ack.
	OnCreate func(b *Block)
	OnUpdate func(b *Block, s Sample)
	// OnError receives device rejections and send failures for this block.
	OnError func(b *Block, err error)
}

// Block is a device-side log configuration. Mutable fields are guarded by
// the owning Store's mutex.
type Block struct {
	store   *Store
	id      uint8
	members []*registry.Variable
	width   int
	opts    BlockOptions

	state        State
	period       time.Duration
	startPending bool
	lastTS       uint32
	hasTS        bool
	deleteDone   []func()
}

func (b *Block) ID() uint8 {
	return b.id
}

func (b *Block) State() State {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	return b.state
}

// Period is the configured sampling period, zero once stopped.
func (b *Block) Period() time.Duration {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	return b.period
}

func (b *Block) LastTimestamp() (uint32, bool) {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	return b.lastTS, b.hasTS
}

func (b *Block) Members() []*registry.Variable {
	return append([]*registry.Variable(nil), b.members...)
}

func (b *Block) Names() []string {
	out := make([]string, len(b.members))
	for i, v := range b.members {
		out[i] = v.Key()
	}
	return out
}

// Values returns the members' cached values by "group/name".
func (b *Block) Values() map[string]scalar.Value {
	out := make(map[string]scalar.Value, len(b.members))
	for _, v := range b.members {
		if val, ok := v.Value(); ok {
			out[v.Key()] = val
		}
	}
	return out
}

// Start asks the device to begin sampling. A zero period reuses the
// configured one.
func (b *Block) Start(period time.Duration) error {
	s := b.store
	if !s.conn.Connected() {
		return fmt.Errorf("%w: start block %d", ErrNotConnected, b.id)
	}
	s.mu.Lock()
	if b.state != StateAdded {
		state := b.state
		s.mu.Unlock()
		return fmt.Errorf("%w: start block %d in state %s", ErrPrecondition, b.id, state)
	}
	if b.startPending {
		s.mu.Unlock()
		return fmt.Errorf("%w: start block %d already pending", ErrPrecondition, b.id)
	}
	p := b.period
	if period != 0 {
		p = period
	}
	if p == 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: start block %d without a period", ErrPrecondition, b.id)
	}
	units, err := periodUnits(p)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	b.period = p
	b.startPending = true
	s.enqueueLocked(request{cmd: CmdStart, block: b.id, payload: []byte{byte(CmdStart), b.id, units}})
	s.mu.Unlock()
	return s.pump()
}

func (b *Block) Stop() error {
	s := b.store
	if !s.conn.Connected() {
		return fmt.Errorf("%w: stop block %d", ErrNotConnected, b.id)
	}
	s.mu.Lock()
	if b.state != StateStarted {
		state := b.state
		s.mu.Unlock()
		return fmt.Errorf("%w: stop block %d in state %s", ErrPrecondition, b.id, state)
	}
	s.enqueueLocked(request{cmd: CmdStop, block: b.id, payload: []byte{byte(CmdStop), b.id}})
	s.mu.Unlock()
	return s.pump()
}

// Delete removes the block from the device; done fires on the ack.
func (b *Block) Delete(done func()) error {
	s := b.store
	if !s.conn.Connected() {
		return fmt.Errorf("%w: delete block %d", ErrNotConnected, b.id)
	}
	s.mu.Lock()
	if b.state == StateDeleted {
		s.mu.Unlock()
		return fmt.Errorf("%w: block %d already deleted", ErrPrecondition, b.id)
	}
	if done != nil {
		b.deleteDone = append(b.deleteDone, done)
	}
	s.enqueueLocked(request{cmd: CmdDelete, block: b.id, payload: []byte{byte(CmdDelete), b.id}})
	s.mu.Unlock()
	return s.pump()
}

func (b *Block) createPayload() ([]byte, error) {
	buf := make([]byte, 0, 2+3*len(b.members))
	buf = append(buf, byte(CmdCreate), b.id)
	for _, v := range b.members {
		tag, err := scalar.LogTags.Tag(v.Kind)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrPrecondition, v.Key(), err)
		}
		buf = append(buf, tag, byte(v.ID), byte(v.ID>>8))
	}
	if len(buf) > crtp.MaxPayload {
		return nil, fmt.Errorf("%w: %d members exceed one create request", ErrPrecondition, len(b.members))
	}
	return buf, nil
}
