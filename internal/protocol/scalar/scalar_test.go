package scalar

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/danmuck/crtplink/internal/testutil/testlog"
)

func TestCastReadsLittleEndianAtWidth(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		kind Kind
		in   []byte
		want string
	}{
		{U8, []byte{0xFE, 0x99}, "254"},
		{U16, []byte{0xF4, 0x01}, "500"},
		{U32, []byte{0x01, 0x00, 0x00, 0x80}, "2147483649"},
		{U64, []byte{1, 0, 0, 0, 0, 0, 0, 0}, "1"},
		{I8, []byte{0xFF}, "-1"},
		{I16, []byte{0x00, 0x80}, "-32768"},
		{I32, []byte{0xFE, 0xFF, 0xFF, 0xFF}, "-2"},
		{I64, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, "-1"},
		{F32, []byte{0x00, 0x00, 0xC0, 0x3F}, "1.5"},
		{F64, []byte{0, 0, 0, 0, 0, 0, 0x04, 0xC0}, "-2.5"},
	}
	for _, tc := range cases {
		v, err := Cast(tc.kind, tc.in)
		if err != nil {
			t.Fatalf("cast %s: %v", tc.kind, err)
		}
		if v.String() != tc.want {
			t.Fatalf("cast %s = %s, want %s", tc.kind, v, tc.want)
		}
		if !bytes.Equal(v.Bytes(), tc.in[:tc.kind.Width()]) {
			t.Fatalf("bytes %s = %x, want %x", tc.kind, v.Bytes(), tc.in[:tc.kind.Width()])
		}
	}
}

func TestCastRejectsUnsupportedAndShort(t *testing.T) {
	testlog.Start(t)

	if _, err := Cast(Invalid, []byte{1}); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	if _, err := Cast(Kind(42), []byte{1}); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType for out-of-set kind, got %v", err)
	}
	if _, err := Cast(U32, []byte{1, 2}); !errors.Is(err, ErrShortValue) {
		t.Fatalf("expected ErrShortValue, got %v", err)
	}
}

func TestConvertRangeChecks(t *testing.T) {
	testlog.Start(t)

	v, err := Int64(500).Convert(U16)
	if err != nil {
		t.Fatalf("convert 500 to u16: %v", err)
	}
	if !bytes.Equal(v.Bytes(), []byte{0xF4, 0x01}) {
		t.Fatalf("unexpected u16 bytes: %x", v.Bytes())
	}
	if _, err := Int64(256).Convert(U8); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange for 256 as u8, got %v", err)
	}
	if _, err := Int64(-1).Convert(U32); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange for -1 as u32, got %v", err)
	}
	if _, err := Uint64(math.MaxUint64).Convert(I64); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange for max u64 as i64, got %v", err)
	}
	f, err := Float64(2.75).Convert(I8)
	if err != nil || f.Int64() != 2 {
		t.Fatalf("float truncation: v=%v err=%v", f, err)
	}
	g, err := Uint8(3).Convert(F32)
	if err != nil || g.Float64() != 3 {
		t.Fatalf("int to float: v=%v err=%v", g, err)
	}
}

func TestParse(t *testing.T) {
	testlog.Start(t)

	v, err := Parse(I16, "-12")
	if err != nil || v.Int64() != -12 {
		t.Fatalf("parse i16: v=%v err=%v", v, err)
	}
	if _, err := Parse(U8, "300"); err == nil {
		t.Fatalf("expected overflow error for u8")
	}
	f, err := Parse(F32, "0.25")
	if err != nil || f.Float64() != 0.25 {
		t.Fatalf("parse f32: v=%v err=%v", f, err)
	}
}

func TestTagTables(t *testing.T) {
	testlog.Start(t)

	if k, err := ParamTags.Kind(0x09); err != nil || k != U16 {
		t.Fatalf("param tag 0x09: k=%s err=%v", k, err)
	}
	if k, err := LogTags.Kind(0x07); err != nil || k != F32 {
		t.Fatalf("log tag 0x07: k=%s err=%v", k, err)
	}
	if _, err := LogTags.Kind(0x08); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected fp16 log tag unsupported, got %v", err)
	}
	if _, err := ParamTags.Kind(0x05); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected fp16 param tag unsupported, got %v", err)
	}
	if _, err := LogTags.Tag(U64); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected no u64 log tag, got %v", err)
	}
	if tag, err := LogTags.Tag(I16); err != nil || tag != 0x05 {
		t.Fatalf("log tag for i16: tag=%#x err=%v", tag, err)
	}
	if _, err := ParamTags.Kind(0xF3); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected out-of-range tag unsupported, got %v", err)
	}
}
