package client

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/crtplink/internal/cache"
	"github.com/danmuck/crtplink/internal/handshake"
	"github.com/danmuck/crtplink/internal/link"
	"github.com/danmuck/crtplink/internal/logstore"
	"github.com/danmuck/crtplink/internal/param"
	"github.com/danmuck/crtplink/internal/protocol/crtp"
	"github.com/danmuck/crtplink/internal/protocol/toc"
	"github.com/danmuck/crtplink/internal/testutil/fakelink"
	"github.com/danmuck/crtplink/internal/testutil/testlog"
)

func newTestClient(t *testing.T, dev *fakeDevice, c toc.Cache, cfg Config) (*Client, *fakelink.Transport) {
	t.Helper()
	tr := fakelink.NewTransport("radio0")
	tr.Respond = dev.respond
	cl, err := New(tr, c, cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = cl.Disconnect() })
	return cl, tr
}

func TestConnectRunsHandshake(t *testing.T) {
	testlog.Start(t)
	dev := newFakeDevice()
	cl, tr := newTestClient(t, dev, cache.NewMemory(), DefaultConfig())

	if err := cl.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !cl.Ready() {
		t.Fatalf("client should be ready")
	}
	if cl.Params().Registry().Len() != 2 || cl.Logs().Registry().Len() != 2 {
		t.Fatalf("registries params=%d logvars=%d", cl.Params().Registry().Len(), cl.Logs().Registry().Len())
	}
	sent := tr.Sent()
	reset := []byte{crtp.Header(crtp.PortLog, logstore.ChannelControl), byte(logstore.CmdReset)}
	if len(sent) == 0 || !bytes.Equal(sent[0], reset) {
		t.Fatalf("first frame should reset logging, got %x", sent)
	}
	if info := cl.Logs().TOCInfo(); !info.HasLimits || info.MaxPackets != 16 {
		t.Fatalf("log info limits not recorded: %+v", info)
	}
}

func TestReconnectUsesCache(t *testing.T) {
	testlog.Start(t)
	shared := cache.NewMemory()
	first, _ := newTestClient(t, newFakeDevice(), shared, DefaultConfig())
	if err := first.Connect(context.Background()); err != nil {
		t.Fatalf("first connect: %v", err)
	}

	dev := newFakeDevice()
	second, _ := newTestClient(t, dev, shared, DefaultConfig())
	if err := second.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	for _, port := range []crtp.Port{crtp.PortParam, crtp.PortLog} {
		info, items := dev.counts(port)
		if info != 1 || items != 0 {
			t.Fatalf("port %s info=%d items=%d, want cache hit", port, info, items)
		}
	}
	if _, ok := second.Params().Registry().ByName("ring/effect"); !ok {
		t.Fatalf("cached params not registered")
	}

	forced, _ := newTestClient(t, dev, shared, Config{ForceRefresh: true})
	if err := forced.Connect(context.Background()); err != nil {
		t.Fatalf("forced connect: %v", err)
	}
	if _, items := dev.counts(crtp.PortParam); items != 2 {
		t.Fatalf("forced refresh should refetch, items=%d", items)
	}
}

func TestHandshakeTimesOut(t *testing.T) {
	testlog.Start(t)
	dev := newFakeDevice()
	dev.ignoreReset = true
	cl, _ := newTestClient(t, dev, nil, Config{HandshakeTimeout: 50 * time.Millisecond})
	err := cl.Connect(context.Background())
	if !errors.Is(err, handshake.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if cl.Ready() {
		t.Fatalf("client must not be ready after a timeout")
	}
	if info, _ := dev.counts(crtp.PortParam); info != 0 {
		t.Fatalf("toc fetch must wait for the reset stage, info=%d", info)
	}
}

func TestDisconnectCancelsHandshake(t *testing.T) {
	testlog.Start(t)
	dev := newFakeDevice()
	dev.ignoreInfo = true
	cl, tr := newTestClient(t, dev, nil, Config{HandshakeTimeout: 5 * time.Second})

	errc := make(chan error, 1)
	go func() { errc <- cl.Connect(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if info, _ := dev.counts(crtp.PortLog); info > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("toc stage never started")
		}
		time.Sleep(time.Millisecond)
	}
	_ = tr.Drop(errors.New("radio lost"))

	select {
	case err := <-errc:
		if !errors.Is(err, handshake.ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handshake still blocked after disconnect")
	}
	if cl.Params().TOCState() != toc.StateIdle {
		t.Fatalf("toc fetch should be aborted, state=%s", cl.Params().TOCState())
	}
}

func TestSetAndReadParam(t *testing.T) {
	testlog.Start(t)
	dev := newFakeDevice()
	cl, _ := newTestClient(t, dev, nil, DefaultConfig())
	if err := cl.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	got, err := cl.SetParam(context.Background(), "ring/effect", "500")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if got.Uint64() != 500 {
		t.Fatalf("unexpected ack value %v", got)
	}
	v, _ := cl.Params().Registry().ByName("ring/effect")
	if cached, ok := v.Value(); !ok || cached.Uint64() != 500 {
		t.Fatalf("cache not updated: %v", cached)
	}

	rev, err := cl.ReadParam(context.Background(), "firmware/revision")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rev.Uint64() != 42 {
		t.Fatalf("unexpected revision %v", rev)
	}

	if _, err := cl.SetParam(context.Background(), "firmware/revision", "1"); !errors.Is(err, param.ErrPrecondition) {
		t.Fatalf("expected read-only rejection, got %v", err)
	}
	if _, err := cl.SetParam(context.Background(), "ring/effect", "abc"); !errors.Is(err, param.ErrPrecondition) {
		t.Fatalf("expected parse rejection, got %v", err)
	}
}

func TestLogBlockThroughClient(t *testing.T) {
	testlog.Start(t)
	dev := newFakeDevice()
	cl, tr := newTestClient(t, dev, nil, DefaultConfig())
	if err := cl.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	samples := make(chan logstore.Sample, 1)
	started := make(chan struct{}, 1)
	b, err := cl.Logs().CreateBlock([]string{"pm/vbat"}, 100*time.Millisecond, logstore.BlockOptions{
		OnCreate: func(*logstore.Block) { started <- struct{}{} },
		OnUpdate: func(_ *logstore.Block, s logstore.Sample) { samples <- s },
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("block never created")
	}
	deadline := time.Now().Add(2 * time.Second)
	for b.State() != logstore.StateStarted {
		if time.Now().After(deadline) {
			t.Fatalf("block never started, state=%s", b.State())
		}
		time.Sleep(time.Millisecond)
	}

	tr.Inject(encode(crtp.PortLog, logstore.ChannelData, []byte{b.ID(), 0x10, 0x00, 0x00, 0xF4, 0x01}))
	select {
	case s := <-samples:
		if s.Timestamp != 0x10 || s.Values["pm/vbat"].Uint64() != 500 {
			t.Fatalf("unexpected sample %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("sample not delivered")
	}

	views := cl.BlockViews()
	if len(views) != 1 || views[0].State != "started" || views[0].PeriodMS != 100 {
		t.Fatalf("unexpected block views %+v", views)
	}
}

func TestMotionCommands(t *testing.T) {
	testlog.Start(t)
	cl, tr := newTestClient(t, newFakeDevice(), nil, DefaultConfig())
	if err := cl.TakeOff(); !errors.Is(err, link.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before connect, got %v", err)
	}
	if err := cl.Link().Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := cl.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := cl.GenericStop(); err != nil {
		t.Fatalf("generic stop: %v", err)
	}
	sent := tr.Sent()
	if len(sent) != 2 {
		t.Fatalf("unexpected frames %x", sent)
	}
	if !bytes.Equal(sent[0], []byte{0x80, 0x03, 0x00}) || !bytes.Equal(sent[1], []byte{0x70, 0x00}) {
		t.Fatalf("unexpected frames %x", sent)
	}
}

func TestConsoleLinesReachCallback(t *testing.T) {
	testlog.Start(t)
	lines := make(chan string, 1)
	cl, tr := newTestClient(t, newFakeDevice(), nil, Config{OnConsole: func(l string) { lines <- l }})
	if err := cl.Link().Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	tr.Inject(encode(crtp.PortConsole, 0, []byte("hello ")))
	tr.Inject(encode(crtp.PortConsole, 0, []byte("world\n")))
	select {
	case l := <-lines:
		if l != "hello world" {
			t.Fatalf("unexpected line %q", l)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("console line not delivered")
	}
}
