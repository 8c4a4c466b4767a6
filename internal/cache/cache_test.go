package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/crtplink/internal/protocol/scalar"
	"github.com/danmuck/crtplink/internal/protocol/toc"
	"github.com/danmuck/crtplink/internal/testutil/testlog"
)

var (
	_ toc.Cache = (*Memory)(nil)
	_ toc.Cache = (*File)(nil)
)

func sampleSnapshot() toc.Snapshot {
	return toc.Snapshot{
		Hash:  0xABCD,
		Count: 2,
		Items: []toc.Descriptor{
			{ID: 0, Group: "pid", Name: "kp", Kind: scalar.F32},
			{ID: 1, Group: "pm", Name: "vbat", Kind: scalar.U16, ReadOnly: true},
		},
	}
}

func TestMemoryRoundTripCopies(t *testing.T) {
	testlog.Start(t)
	m := NewMemory()
	if _, ok := m.Get("radio0/params"); ok {
		t.Fatalf("empty cache hit")
	}
	snap := sampleSnapshot()
	if err := m.Put("radio0/params", snap); err != nil {
		t.Fatalf("put: %v", err)
	}
	snap.Items[0].Name = "mutated"
	got, ok := m.Get("radio0/params")
	if !ok || got.Items[0].Name != "kp" {
		t.Fatalf("cache must own its copy: %+v", got)
	}
	if err := m.Put(" ", snap); err != ErrEmptyKey {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestFileRoundTrip(t *testing.T) {
	testlog.Start(t)
	f, err := NewFile(filepath.Join(t.TempDir(), "toc"))
	if err != nil {
		t.Fatalf("new file cache: %v", err)
	}
	key := "/dev/ttyUSB0/logvars"
	if err := f.Put(key, sampleSnapshot()); err != nil {
		t.Fatalf("put: %v", err)
	}
	if filepath.Base(f.Path(key)) != "dev_ttyUSB0_logvars.toml" {
		t.Fatalf("unexpected file name %q", f.Path(key))
	}
	got, ok := f.Get(key)
	if !ok {
		t.Fatalf("expected hit")
	}
	want := sampleSnapshot()
	if got.Hash != want.Hash || got.Count != want.Count || len(got.Items) != 2 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	for i := range want.Items {
		if got.Items[i] != want.Items[i] {
			t.Fatalf("item %d got %+v want %+v", i, got.Items[i], want.Items[i])
		}
	}
	if !got.Complete() {
		t.Fatalf("round-tripped snapshot should be complete")
	}
}

func TestFileCorruptIsMiss(t *testing.T) {
	testlog.Start(t)
	f, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("new file cache: %v", err)
	}
	if err := os.WriteFile(f.Path("radio0/params"), []byte("hash = [[["), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := f.Get("radio0/params"); ok {
		t.Fatalf("corrupt file should miss")
	}
	if _, ok := f.Get("radio1/params"); ok {
		t.Fatalf("missing file should miss")
	}
}
