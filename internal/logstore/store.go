// Package logstore manages log blocks: device-side sampling configurations
// whose data packets update log variables periodically.
package logstore

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/crtplink/internal/link"
	"github.com/danmuck/crtplink/internal/logging"
	"github.com/danmuck/crtplink/internal/observability"
	"github.com/danmuck/crtplink/internal/protocol/crtp"
	"github.com/danmuck/crtplink/internal/protocol/scalar"
	"github.com/danmuck/crtplink/internal/protocol/toc"
	"github.com/danmuck/crtplink/internal/registry"
)

var ErrNotConnected = link.ErrNotConnected

type request struct {
	cmd     Command
	block   uint8
	payload []byte
}

// Store owns the log variable registry and every block. Control requests
// are queued and sent one at a time; each waits for its response.
type Store struct {
	conn   link.Conn
	reg    *registry.Registry
	syncer *toc.Synchronizer

	mu        sync.Mutex
	blocks    map[uint8]*Block
	retired   map[uint8]bool
	nextID    uint8
	queue     []request
	inflight  *request
	resetDone []func()
}

func NewStore(conn link.Conn, cache toc.Cache) *Store {
	reg := registry.New(toc.LogNamespace.Name)
	return &Store{
		conn:    conn,
		reg:     reg,
		syncer:  toc.NewSynchronizer(toc.LogNamespace, conn, reg, cache),
		blocks:  make(map[uint8]*Block),
		retired: make(map[uint8]bool),
	}
}

func (s *Store) Registry() *registry.Registry {
	return s.reg
}

// SyncTOC starts the log variable directory fetch.
func (s *Store) SyncTOC(device string, force bool, done func(toc.Result)) error {
	return s.syncer.Start(device, force, done)
}

func (s *Store) TOCState() toc.State {
	return s.syncer.State()
}

// TOCInfo reports the last info response, including the device's block limits.
func (s *Store) TOCInfo() toc.Info {
	return s.syncer.Info()
}

// AbortTOC drops an in-flight directory fetch.
func (s *Store) AbortTOC() {
	s.syncer.Abort()
}

// Blocks returns the live blocks ordered by id.
func (s *Store) Blocks() []*Block {
	s.mu.Lock()
	out := make([]*Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		out = append(out, b)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (s *Store) Block(id uint8) (*Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[id]
	return b, ok
}

// Pending reports queued plus in-flight control requests.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	if s.inflight != nil {
		n++
	}
	return n
}

// CreateBlock validates the members and queues a create request. The block
// starts automatically with period once the device accepts it.
func (s *Store) CreateBlock(names []string, period time.Duration, opts BlockOptions) (*Block, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: empty block", ErrPrecondition)
	}
	if len(names) > MaxMembers {
		return nil, fmt.Errorf("%w: %d members, at most %d", ErrPrecondition, len(names), MaxMembers)
	}
	if _, err := periodUnits(period); err != nil {
		return nil, err
	}
	members := make([]*registry.Variable, 0, len(names))
	width := 0
	for _, name := range names {
		v, ok := s.reg.ByName(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown log variable %q", ErrPrecondition, name)
		}
		width += v.Kind.Width()
		if width > MaxBlockBytes {
			return nil, fmt.Errorf("%w: members exceed %d bytes at %q", ErrPrecondition, MaxBlockBytes, name)
		}
		members = append(members, v)
	}
	if !s.conn.Connected() {
		return nil, fmt.Errorf("%w: create block", ErrNotConnected)
	}

	s.mu.Lock()
	id, ok := s.allocIDLocked()
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: no free block id", ErrPrecondition)
	}
	b := &Block{
		store:   s,
		id:      id,
		members: members,
		width:   width,
		opts:    opts,
		state:   StateCreated,
		period:  period,
	}
	payload, err := b.createPayload()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.blocks[id] = b
	s.enqueueLocked(request{cmd: CmdCreate, block: id, payload: payload})
	s.mu.Unlock()

	logging.Debugf("logstore.Store.CreateBlock id=%d members=%d width=%d period=%s", id, len(members), width, period)
	return b, s.pump()
}

// Reset asks the device to drop every block; done fires on the ack.
func (s *Store) Reset(done func()) error {
	if !s.conn.Connected() {
		return fmt.Errorf("%w: reset logging", ErrNotConnected)
	}
	s.mu.Lock()
	if done != nil {
		s.resetDone = append(s.resetDone, done)
	}
	s.enqueueLocked(request{cmd: CmdReset, payload: []byte{byte(CmdReset)}})
	s.mu.Unlock()
	return s.pump()
}

// Disconnected drops queued control requests and any TOC fetch.
func (s *Store) Disconnected() {
	s.mu.Lock()
	dropped := len(s.queue)
	if s.inflight != nil {
		dropped++
	}
	s.queue = nil
	s.inflight = nil
	for _, b := range s.blocks {
		b.startPending = false
	}
	s.mu.Unlock()
	s.syncer.Abort()
	if dropped > 0 {
		logging.Warnf("logstore.Store.Disconnected dropped=%d control requests", dropped)
	}
}

// HandlePacket implements link.Handler for the log port.
func (s *Store) HandlePacket(p crtp.Packet) error {
	switch p.Channel {
	case ChannelTOC:
		return s.syncer.HandlePacket(p.Payload)
	case ChannelControl:
		return s.handleControl(p.Payload)
	case ChannelData:
		return s.handleSample(p.Payload)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownChannel, p.Channel)
	}
}

// allocIDLocked skips live and deleted ids. Deleted ids return to the pool
// only when a reset-logging ack clears the device's block table.
func (s *Store) allocIDLocked() (uint8, bool) {
	for range 256 {
		id := s.nextID
		s.nextID++
		if _, used := s.blocks[id]; !used && !s.retired[id] {
			return id, true
		}
	}
	return 0, false
}

func (s *Store) enqueueLocked(req request) {
	s.queue = append(s.queue, req)
}

// pump sends the queue head when nothing is in flight.
func (s *Store) pump() error {
	var first error
	for {
		s.mu.Lock()
		if s.inflight != nil || len(s.queue) == 0 {
			s.mu.Unlock()
			return first
		}
		req := s.queue[0]
		s.queue = s.queue[1:]
		s.inflight = &req
		s.mu.Unlock()

		err := s.conn.Send(crtp.NewPacket(crtp.PortLog, ChannelControl, req.payload))
		if err == nil {
			logging.Tracef("logstore.Store.pump sent cmd=%s block=%d", req.cmd, req.block)
			return first
		}
		err = fmt.Errorf("logstore: send %s block=%d: %w", req.cmd, req.block, err)
		logging.Warnf("logstore.Store.pump %v", err)
		if first == nil {
			first = err
		}
		s.mu.Lock()
		s.inflight = nil
		notify := s.failLocked(req, err)
		s.mu.Unlock()
		run(notify)
	}
}

// failLocked rolls back a request that never reached the device.
func (s *Store) failLocked(req request, err error) []func() {
	b, ok := s.blocks[req.block]
	if !ok || req.cmd == CmdReset {
		return nil
	}
	if req.cmd == CmdStart {
		b.startPending = false
	}
	return b.errorLocked(err)
}

func (s *Store) handleControl(payload []byte) error {
	resp, err := parseControl(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	released := false
	if in := s.inflight; in != nil && in.cmd == resp.cmd && (resp.cmd == CmdReset || in.block == resp.block) {
		s.inflight = nil
		released = true
	}
	if !released {
		logging.Warnf("logstore.Store.handleControl unsolicited cmd=%s block=%d result=%s", resp.cmd, resp.block, resp.result)
	}
	notify, applyErr := s.applyLocked(resp)
	s.mu.Unlock()

	run(notify)
	if released {
		if err := s.pump(); err != nil {
			logging.Warnf("logstore.Store.handleControl next request failed err=%v", err)
		}
	}
	return applyErr
}

// applyLocked moves block state for one response and returns the callbacks
// to run once the lock is released.
func (s *Store) applyLocked(resp controlResponse) ([]func(), error) {
	if resp.cmd == CmdReset {
		if resp.result != ResultOK {
			logging.Warnf("logstore.Store reset rejected result=%s", resp.result)
			return nil, &DeviceError{Command: resp.cmd, Block: resp.block, Result: resp.result}
		}
		for id, b := range s.blocks {
			b.state = StateDeleted
			b.startPending = false
			delete(s.blocks, id)
		}
		clear(s.retired)
		s.nextID = 0
		notify := s.resetDone
		s.resetDone = nil
		logging.Infof("logstore.Store reset logging")
		return notify, nil
	}
	if resp.cmd == CmdAppend {
		logging.Warnf("logstore.Store append response block=%d result=%s ignored", resp.block, resp.result)
		return nil, nil
	}

	b, ok := s.blocks[resp.block]
	if !ok {
		switch resp.cmd {
		case CmdCreate, CmdStart, CmdStop, CmdDelete:
			return nil, fmt.Errorf("%w: %s response for block %d", ErrUnknownBlock, resp.cmd, resp.block)
		default:
			return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownCommand, uint8(resp.cmd))
		}
	}
	devErr := &DeviceError{Command: resp.cmd, Block: resp.block, Result: resp.result}

	switch resp.cmd {
	case CmdCreate:
		if resp.result != ResultOK && resp.result != ResultBlockExists {
			logging.Warnf("logstore.Store create rejected block=%d result=%s", b.id, resp.result)
			return b.errorLocked(devErr), nil
		}
		if b.state != StateCreated {
			return nil, nil
		}
		b.state = StateAdded
		logging.Infof("logstore.Store created block=%d", b.id)
		var notify []func()
		if fn := b.opts.OnCreate; fn != nil {
			notify = append(notify, func() { fn(b) })
		}
		if units, err := periodUnits(b.period); err == nil && !b.startPending {
			b.startPending = true
			s.enqueueLocked(request{cmd: CmdStart, block: b.id, payload: []byte{byte(CmdStart), b.id, units}})
		}
		return notify, nil
	case CmdStart:
		b.startPending = false
		if resp.result != ResultOK {
			logging.Warnf("logstore.Store start rejected block=%d result=%s", b.id, resp.result)
			return b.errorLocked(devErr), nil
		}
		if b.state == StateAdded {
			b.state = StateStarted
			logging.Infof("logstore.Store started block=%d period=%s", b.id, b.period)
		}
		return nil, nil
	case CmdStop:
		if resp.result != ResultOK {
			logging.Warnf("logstore.Store stop rejected block=%d result=%s", b.id, resp.result)
			return b.errorLocked(devErr), nil
		}
		if b.state == StateStarted {
			b.state = StateAdded
			b.period = 0
			b.lastTS = 0
			b.hasTS = false
			logging.Infof("logstore.Store stopped block=%d", b.id)
		}
		return nil, nil
	case CmdDelete:
		if resp.result != ResultOK && resp.result != ResultWrongBlockID {
			logging.Warnf("logstore.Store delete rejected block=%d result=%s", b.id, resp.result)
			return b.errorLocked(devErr), nil
		}
		b.state = StateDeleted
		b.startPending = false
		delete(s.blocks, b.id)
		s.retired[b.id] = true
		notify := b.deleteDone
		b.deleteDone = nil
		logging.Infof("logstore.Store deleted block=%d", b.id)
		return notify, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownCommand, uint8(resp.cmd))
	}
}

func (s *Store) handleSample(payload []byte) error {
	if len(payload) < sampleHeaderLen {
		return fmt.Errorf("%w: %d bytes", ErrMalformedSample, len(payload))
	}
	id := payload[0]
	ts := uint32(payload[3])<<16 | uint32(binary.LittleEndian.Uint16(payload[1:3]))
	body := payload[sampleHeaderLen:]

	s.mu.Lock()
	b, ok := s.blocks[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: sample for block %d", ErrUnknownBlock, id)
	}
	if len(body) < b.width {
		return fmt.Errorf("%w: block %d has %d bytes, want %d", ErrMalformedSample, id, len(body), b.width)
	}

	sample := Sample{Timestamp: ts, Values: make(map[string]scalar.Value, len(b.members))}
	off := 0
	for _, v := range b.members {
		w := v.Kind.Width()
		val, err := v.Update(body[off : off+w])
		if err != nil {
			return fmt.Errorf("logstore: block %d member %s: %w", id, v.Key(), err)
		}
		sample.Values[v.Key()] = val
		off += w
	}

	s.mu.Lock()
	b.lastTS = ts
	b.hasTS = true
	s.mu.Unlock()

	observability.RecordLogSample(id)
	if fn := b.opts.OnUpdate; fn != nil {
		fn(b, sample)
	}
	return nil
}

// errorLocked wraps OnError for deferred invocation.
func (b *Block) errorLocked(err error) []func() {
	if fn := b.opts.OnError; fn != nil {
		return []func(){func() { fn(b, err) }}
	}
	return nil
}

func run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
