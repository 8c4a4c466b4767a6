package link

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/danmuck/crtplink/internal/protocol/crtp"
	"github.com/danmuck/crtplink/internal/testutil/testlog"
)

type stubTransport struct {
	connected bool
	recv      Receiver
	sent      [][]byte
}

func (s *stubTransport) Connect(context.Context) error {
	s.connected = true
	return nil
}

func (s *stubTransport) Disconnect() error {
	s.connected = false
	return nil
}

func (s *stubTransport) Subscribe(r Receiver) { s.recv = r }

func (s *stubTransport) IsConnected() bool { return s.connected }

func (s *stubTransport) ID() string { return "stub" }

func (s *stubTransport) Send(frame []byte) error {
	s.sent = append(s.sent, frame)
	return nil
}

func TestLinkDispatchesByPort(t *testing.T) {
	testlog.Start(t)
	tr := &stubTransport{}
	l := New(tr)

	var got []crtp.Packet
	if err := l.Register(crtp.PortLog, HandlerFunc(func(p crtp.Packet) error {
		got = append(got, p)
		return nil
	})); err != nil {
		t.Fatalf("register: %v", err)
	}
	tr.recv.Receive([]byte{0x52, 0x01, 0x02})
	tr.recv.Receive([]byte{0x20, 0x03})
	if len(got) != 1 {
		t.Fatalf("expected one log packet, got %d", len(got))
	}
	if got[0].Channel != 2 || !bytes.Equal(got[0].Payload, []byte{0x01, 0x02}) {
		t.Fatalf("unexpected packet %+v", got[0])
	}
	if st := l.Stats(); st.Received != 2 || st.Dropped != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestLinkRegisterRejectsSecondHandler(t *testing.T) {
	testlog.Start(t)
	l := New(&stubTransport{})
	h := HandlerFunc(func(crtp.Packet) error { return nil })
	if err := l.Register(crtp.PortParam, h); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := l.Register(crtp.PortParam, h); !errors.Is(err, ErrPortInUse) {
		t.Fatalf("expected ErrPortInUse, got %v", err)
	}
	l.Deregister(crtp.PortParam)
	if err := l.Register(crtp.PortParam, h); err != nil {
		t.Fatalf("register after deregister: %v", err)
	}
	if err := l.Register(crtp.Port(0x9), h); err == nil {
		t.Fatalf("expected error for unenumerated port")
	}
}

func TestLinkDropsMalformedAndRejected(t *testing.T) {
	testlog.Start(t)
	tr := &stubTransport{}
	l := New(tr)
	_ = l.Register(crtp.PortParam, HandlerFunc(func(crtp.Packet) error {
		return crtp.ErrMalformedPacket
	}))
	tr.recv.Receive(nil)
	tr.recv.Receive([]byte{0x20})
	if st := l.Stats(); st.Dropped != 2 || st.Received != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestLinkSendRequiresConnection(t *testing.T) {
	testlog.Start(t)
	tr := &stubTransport{}
	l := New(tr)
	p := crtp.NewPacket(crtp.PortHighLevelSetpoint, 0, []byte{0x03, 0x00})
	if err := l.Send(p); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := l.Send(p); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(tr.sent) != 1 || !bytes.Equal(tr.sent[0], []byte{0x80, 0x03, 0x00}) {
		t.Fatalf("unexpected frames %x", tr.sent)
	}
}

func TestLinkDisconnectCallbacks(t *testing.T) {
	testlog.Start(t)
	tr := &stubTransport{}
	l := New(tr)
	var got []error
	l.OnDisconnect(func(err error) { got = append(got, err) })
	l.OnDisconnect(func(err error) { got = append(got, err) })
	tr.recv.Disconnected(nil)
	if len(got) != 2 || !errors.Is(got[0], ErrNotConnected) {
		t.Fatalf("unexpected callbacks %v", got)
	}
}

func TestLinkDisconnectRunsSnapshotOfCallbacks(t *testing.T) {
	testlog.Start(t)
	tr := &stubTransport{}
	l := New(tr)
	late := 0
	l.OnDisconnect(func(error) {
		l.OnDisconnect(func(error) { late++ })
	})
	cause := errors.New("radio lost")
	tr.recv.Disconnected(cause)
	if late != 0 {
		t.Fatalf("callback added during disconnect ran early")
	}
	tr.recv.Disconnected(cause)
	if late != 1 {
		t.Fatalf("late callback ran %d times, want 1", late)
	}
}

func TestConsoleAssemblesLines(t *testing.T) {
	testlog.Start(t)
	var lines []string
	c := NewConsole(func(line string) { lines = append(lines, line) })

	_ = c.HandlePacket(crtp.NewPacket(crtp.PortConsole, 0, []byte("SYS: boo")))
	if len(lines) != 0 {
		t.Fatalf("partial line emitted early")
	}
	_ = c.HandlePacket(crtp.NewPacket(crtp.PortConsole, 0, []byte("t ok\nIMU: ")))
	_ = c.HandlePacket(crtp.NewPacket(crtp.PortConsole, 0, []byte("ready\r\n")))
	if len(lines) != 2 || lines[0] != "SYS: boot ok" || lines[1] != "IMU: ready" {
		t.Fatalf("unexpected lines %q", lines)
	}
	if c.Pending() != "" {
		t.Fatalf("unexpected leftover %q", c.Pending())
	}
}
