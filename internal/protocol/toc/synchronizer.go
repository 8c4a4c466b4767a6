package toc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/crtplink/internal/logging"
	"github.com/danmuck/crtplink/internal/protocol/crtp"
)

var ErrFetchInProgress = errors.New("toc: fetch already in progress")

type State int

const (
	StateIdle State = iota
	StateInfoRequested
	StateFetching
	// StateIncomplete means the last index was processed without
	// accumulating the announced count; completion will not fire.
	StateIncomplete
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInfoRequested:
		return "info_requested"
	case StateFetching:
		return "fetching"
	case StateIncomplete:
		return "incomplete"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is delivered once per successful Start.
type Result struct {
	Snapshot  Snapshot
	Info      Info
	FromCache bool
}

// Synchronizer enumerates one remote directory. Item requests are issued
// strictly one at a time: item i+1 is requested only after item i arrives.
type Synchronizer struct {
	ns     Namespace
	sender crtp.Sender
	sink   Sink
	cache  Cache

	mu        sync.Mutex
	state     State
	key       string
	force     bool
	info      Info
	next      uint16
	items     []Descriptor
	cached    Snapshot
	hasCached bool
	done      func(Result)
}

func NewSynchronizer(ns Namespace, sender crtp.Sender, sink Sink, cache Cache) *Synchronizer {
	return &Synchronizer{
		ns:     ns,
		sender: sender,
		sink:   sink,
		cache:  cache,
	}
}

func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns the most recent info response.
func (s *Synchronizer) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Start requests the directory info. device scopes the cache entry; force
// skips cache reuse even when the version matches.
func (s *Synchronizer) Start(device string, force bool, done func(Result)) error {
	s.mu.Lock()
	if s.state == StateInfoRequested || s.state == StateFetching {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFetchInProgress, s.ns.Name)
	}
	s.key = s.ns.CacheKey(device)
	s.force = force
	s.done = done
	s.hasCached = false
	s.cached = Snapshot{}
	if !force && s.cache != nil {
		if snap, ok := s.cache.Get(s.key); ok && snap.Complete() {
			s.cached = snap
			s.hasCached = true
		}
	}
	cached, hasCached := s.cached, s.hasCached
	s.state = StateInfoRequested
	s.mu.Unlock()

	if hasCached {
		s.sink.Reset()
		for _, d := range cached.Items {
			s.sink.Put(d)
		}
		logging.Debugf("toc.Synchronizer.Start ns=%s cached hash=0x%08X count=%d", s.ns.Name, cached.Hash, cached.Count)
	}

	if err := s.send(InfoRequest()); err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.done = nil
		s.mu.Unlock()
		return err
	}
	return nil
}

// Abort drops any in-flight fetch without completing it.
func (s *Synchronizer) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateInfoRequested || s.state == StateFetching {
		logging.Warnf("toc.Synchronizer.Abort ns=%s state=%s next=%d", s.ns.Name, s.state, s.next)
	}
	s.state = StateIdle
	s.done = nil
}

// HandlePacket consumes one payload from the TOC access channel.
func (s *Synchronizer) HandlePacket(payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty toc payload", crtp.ErrMalformedPacket)
	}
	switch payload[0] {
	case CmdInfo:
		return s.handleInfo(payload[1:])
	case CmdItem:
		return s.handleItem(payload[1:])
	default:
		return fmt.Errorf("%w: 0x%02X", ErrUnknownCommand, payload[0])
	}
}

func (s *Synchronizer) handleInfo(body []byte) error {
	info, err := ParseInfo(body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateInfoRequested {
		state := s.state
		s.mu.Unlock()
		logging.Warnf("toc.Synchronizer.handleInfo ns=%s unexpected info state=%s", s.ns.Name, state)
		return nil
	}
	s.info = info
	logging.Infof("toc.Synchronizer.handleInfo ns=%s count=%d hash=0x%08X", s.ns.Name, info.Count, info.Hash)

	if !s.force && s.hasCached && s.cached.Matches(info) {
		logging.Infof("toc.Synchronizer.handleInfo ns=%s unchanged, using cache", s.ns.Name)
		return s.finishLocked(Result{Snapshot: s.cached, Info: info, FromCache: true})
	}

	s.items = make([]Descriptor, 0, info.Count)
	s.next = 0
	if info.Count == 0 {
		s.mu.Unlock()
		s.sink.Reset()
		s.mu.Lock()
		return s.persistAndFinishLocked()
	}
	s.state = StateFetching
	s.mu.Unlock()

	s.sink.Reset()
	logging.Infof("toc.Synchronizer.handleInfo ns=%s fetching %d items", s.ns.Name, info.Count)
	return s.send(ItemRequest(0))
}

func (s *Synchronizer) handleItem(body []byte) error {
	index, err := ItemIndex(body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateFetching {
		state := s.state
		s.mu.Unlock()
		logging.Warnf("toc.Synchronizer.handleItem ns=%s unexpected item index=%d state=%s", s.ns.Name, index, state)
		return nil
	}
	if index != s.next {
		want := s.next
		s.mu.Unlock()
		logging.Warnf("toc.Synchronizer.handleItem ns=%s out-of-order item index=%d want=%d", s.ns.Name, index, want)
		return nil
	}

	d, decodeErr := s.ns.Decode(body)
	if decodeErr != nil {
		logging.Warnf("toc.Synchronizer.handleItem ns=%s dropped item index=%d err=%v", s.ns.Name, index, decodeErr)
	} else {
		s.items = append(s.items, d)
	}

	last := s.next >= s.info.Count-1
	complete := len(s.items) == int(s.info.Count)
	if !last {
		s.next++
	}
	next := s.next
	if !complete && last {
		s.state = StateIncomplete
		logging.Warnf(
			"toc.Synchronizer.handleItem ns=%s incomplete registered=%d announced=%d",
			s.ns.Name,
			len(s.items),
			s.info.Count,
		)
	}
	s.mu.Unlock()

	if decodeErr == nil {
		s.sink.Put(d)
	}
	if !last {
		if err := s.send(ItemRequest(next)); err != nil {
			return err
		}
	}
	if complete {
		s.mu.Lock()
		return s.persistAndFinishLocked()
	}
	return nil
}

// persistAndFinishLocked expects s.mu held and releases it.
func (s *Synchronizer) persistAndFinishLocked() error {
	snap := Snapshot{
		Hash:  s.info.Hash,
		Count: s.info.Count,
		Items: append([]Descriptor(nil), s.items...),
	}
	logging.Infof("toc.Synchronizer fetched ns=%s items=%d", s.ns.Name, len(snap.Items))
	if s.cache != nil {
		if err := s.cache.Put(s.key, snap); err != nil {
			logging.Warnf("toc.Synchronizer persist failed ns=%s key=%q err=%v", s.ns.Name, s.key, err)
		}
	}
	s.cached = snap
	s.hasCached = true
	return s.finishLocked(Result{Snapshot: snap, Info: s.info})
}

// finishLocked expects s.mu held and releases it before invoking done.
func (s *Synchronizer) finishLocked(res Result) error {
	s.state = StateDone
	done := s.done
	s.done = nil
	s.mu.Unlock()
	if done != nil {
		done(res)
	}
	return nil
}

func (s *Synchronizer) send(payload []byte) error {
	if err := s.sender.Send(crtp.NewPacket(s.ns.Port, Channel, payload)); err != nil {
		return fmt.Errorf("toc: send %s request: %w", s.ns.Name, err)
	}
	return nil
}
