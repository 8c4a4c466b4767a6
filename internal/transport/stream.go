// Package transport carries CRTP frames over byte streams such as a serial
// radio bridge.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/danmuck/crtplink/internal/link"
	"github.com/danmuck/crtplink/internal/logging"
	"github.com/danmuck/crtplink/internal/protocol/crtp"
)

// MaxFrameLen is one header byte plus the largest payload.
const MaxFrameLen = crtp.HeaderLen + crtp.MaxPayload

var (
	ErrFrameTooLarge = errors.New("transport: frame too large")
	ErrEmptyFrame    = errors.New("transport: empty frame")
	ErrClosed        = errors.New("transport: not connected")
)

// Opener produces the underlying stream on Connect.
type Opener func(ctx context.Context) (io.ReadWriteCloser, error)

// WriteFrame writes [len u8][frame].
func WriteFrame(w io.Writer, frame []byte) error {
	if len(frame) == 0 {
		return ErrEmptyFrame
	}
	if len(frame) > MaxFrameLen {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}
	buf := make([]byte, 1+len(frame))
	buf[0] = byte(len(frame))
	copy(buf[1:], frame)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one [len u8][frame]. Zero-length frames are skipped.
func ReadFrame(r io.Reader) ([]byte, error) {
	var n [1]byte
	for {
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return nil, err
		}
		if n[0] != 0 {
			break
		}
	}
	if int(n[0]) > MaxFrameLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n[0])
	}
	frame := make([]byte, n[0])
	if _, err := io.ReadFull(r, frame); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

// Stream implements link.Transport over an Opener. One reader goroutine
// delivers inbound frames.
type Stream struct {
	id   string
	open Opener

	mu      sync.Mutex
	recv    link.Receiver
	rwc     io.ReadWriteCloser
	session *session

	writeMu sync.Mutex
}

type session struct {
	once    sync.Once
	closing bool
}

func NewStream(id string, open Opener) *Stream {
	return &Stream{id: id, open: open}
}

func (s *Stream) ID() string {
	return s.id
}

func (s *Stream) Subscribe(r link.Receiver) {
	s.mu.Lock()
	s.recv = r
	s.mu.Unlock()
}

func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rwc != nil
}

func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.rwc != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	rwc, err := s.open(ctx)
	if err != nil {
		return fmt.Errorf("transport: open %s: %w", s.id, err)
	}
	sess := &session{}
	s.mu.Lock()
	s.rwc = rwc
	s.session = sess
	s.mu.Unlock()

	go s.readLoop(rwc, sess)
	logging.Infof("transport.Stream.Connect id=%q", s.id)
	return nil
}

func (s *Stream) Send(frame []byte) error {
	s.mu.Lock()
	rwc := s.rwc
	s.mu.Unlock()
	if rwc == nil {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WriteFrame(rwc, frame)
}

// Disconnect closes the stream. The receiver is told once per session.
func (s *Stream) Disconnect() error {
	s.mu.Lock()
	rwc, sess := s.rwc, s.session
	if sess != nil {
		sess.closing = true
	}
	s.rwc = nil
	s.session = nil
	s.mu.Unlock()
	if rwc == nil {
		return nil
	}
	err := rwc.Close()
	s.notify(sess, nil)
	return err
}

func (s *Stream) readLoop(rwc io.ReadWriteCloser, sess *session) {
	for {
		frame, err := ReadFrame(rwc)
		if err != nil {
			s.mu.Lock()
			closing := sess.closing
			if s.session == sess {
				s.rwc = nil
				s.session = nil
			}
			s.mu.Unlock()
			if closing {
				return
			}
			_ = rwc.Close()
			logging.Warnf("transport.Stream.readLoop id=%q err=%v", s.id, err)
			s.notify(sess, err)
			return
		}
		s.mu.Lock()
		recv := s.recv
		s.mu.Unlock()
		if recv != nil {
			recv.Receive(frame)
		}
	}
}

func (s *Stream) notify(sess *session, err error) {
	sess.once.Do(func() {
		s.mu.Lock()
		recv := s.recv
		s.mu.Unlock()
		if recv != nil {
			recv.Disconnected(err)
		}
	})
}
