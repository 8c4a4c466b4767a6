package scalar

import "fmt"

// TagTable maps a namespace's on-wire type tags to kinds. Params and log
// variables use different tag numbering.
type TagTable struct {
	name  string
	kinds [16]Kind
	tags  [F64 + 1]int16
}

func newTagTable(name string, entries map[uint8]Kind) *TagTable {
	t := &TagTable{name: name}
	for i := range t.tags {
		t.tags[i] = -1
	}
	for tag, kind := range entries {
		t.kinds[tag] = kind
		t.tags[kind] = int16(tag)
	}
	return t
}

var (
	ParamTags = newTagTable("param", map[uint8]Kind{
		0x00: I8,
		0x01: I16,
		0x02: I32,
		0x03: I64,
		0x06: F32,
		0x07: F64,
		0x08: U8,
		0x09: U16,
		0x0A: U32,
		0x0B: U64,
	})
	// Log variables have no 64-bit kinds; 0x08 (fp16) is not supported.
	LogTags = newTagTable("log", map[uint8]Kind{
		0x01: U8,
		0x02: U16,
		0x03: U32,
		0x04: I8,
		0x05: I16,
		0x06: I32,
		0x07: F32,
	})
)

func (t *TagTable) Kind(tag uint8) (Kind, error) {
	if int(tag) < len(t.kinds) {
		if k := t.kinds[tag]; k.Valid() {
			return k, nil
		}
	}
	return Invalid, fmt.Errorf("%w: %s tag 0x%02X", ErrUnsupportedType, t.name, tag)
}

func (t *TagTable) Tag(kind Kind) (uint8, error) {
	if kind.Valid() {
		if tag := t.tags[kind]; tag >= 0 {
			return uint8(tag), nil
		}
	}
	return 0, fmt.Errorf("%w: %s has no %s tag", ErrUnsupportedType, t.name, kind)
}
