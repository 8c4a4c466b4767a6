// Package fakelink records outbound packets and feeds inbound frames so the
// protocol layers can be tested without a radio.
package fakelink

import (
	"sync"

	"github.com/danmuck/crtplink/internal/protocol/crtp"
)

// Sender is a link.Conn that records every packet.
type Sender struct {
	mu      sync.Mutex
	sent    []crtp.Packet
	err     error
	offline bool
}

// Connected is true until SetConnected(false).
func (s *Sender) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.offline
}

func (s *Sender) SetConnected(up bool) {
	s.mu.Lock()
	s.offline = !up
	s.mu.Unlock()
}

func (s *Sender) Send(p crtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	p.Payload = append([]byte(nil), p.Payload...)
	s.sent = append(s.sent, p)
	return nil
}

// FailWith makes every later Send return err. A nil err restores success.
func (s *Sender) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Sender) Sent() []crtp.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crtp.Packet(nil), s.sent...)
}

func (s *Sender) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *Sender) Last() (crtp.Packet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return crtp.Packet{}, false
	}
	return s.sent[len(s.sent)-1], true
}

func (s *Sender) Clear() {
	s.mu.Lock()
	s.sent = nil
	s.mu.Unlock()
}
