package toc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/crtplink/internal/protocol/crtp"
	"github.com/danmuck/crtplink/internal/protocol/scalar"
)

// Channel is the TOC access channel on both the param and log ports.
const Channel crtp.Channel = 0

// TOC access sub-commands (protocol v2).
const (
	CmdItem byte = 0x02
	CmdInfo byte = 0x03
)

const (
	paramReadOnlyBit = 0x40
	paramTypeMask    = 0x0F
)

var (
	ErrMalformedInfo  = errors.New("toc: malformed info response")
	ErrMalformedItem  = errors.New("toc: malformed item response")
	ErrUnknownCommand = errors.New("toc: unknown command")
)

// Info is the announced directory version.
type Info struct {
	Count uint16
	Hash  uint32
	// Log TOC info additionally reports the device's block limits.
	MaxPackets uint8
	MaxOps     uint8
	HasLimits  bool
}

func InfoRequest() []byte {
	return []byte{CmdInfo}
}

func ItemRequest(index uint16) []byte {
	buf := make([]byte, 3)
	buf[0] = CmdItem
	binary.LittleEndian.PutUint16(buf[1:3], index)
	return buf
}

// ParseInfo reads an info body (the bytes after the sub-command).
func ParseInfo(b []byte) (Info, error) {
	if len(b) < 6 {
		return Info{}, fmt.Errorf("%w: %d bytes", ErrMalformedInfo, len(b))
	}
	info := Info{
		Count: binary.LittleEndian.Uint16(b[0:2]),
		Hash:  binary.LittleEndian.Uint32(b[2:6]),
	}
	if len(b) >= 8 {
		info.MaxPackets = b[6]
		info.MaxOps = b[7]
		info.HasLimits = true
	}
	return info, nil
}

// ItemIndex peeks the index of an item body.
func ItemIndex(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("%w: %d bytes", ErrMalformedItem, len(b))
	}
	return binary.LittleEndian.Uint16(b[0:2]), nil
}

// ItemDecoder turns one item body into a descriptor.
type ItemDecoder func(b []byte) (Descriptor, error)

// DecodeParamItem reads [id u16][meta u8][group\0name\0...]. The meta byte
// carries the type tag in its low nibble and the read-only flag in bit 6.
func DecodeParamItem(b []byte) (Descriptor, error) {
	if len(b) < 3 {
		return Descriptor{}, fmt.Errorf("%w: %d bytes", ErrMalformedItem, len(b))
	}
	id := binary.LittleEndian.Uint16(b[0:2])
	meta := b[2]
	group, name, err := splitNames(b[3:])
	if err != nil {
		return Descriptor{}, err
	}
	kind, err := scalar.ParamTags.Kind(meta & paramTypeMask)
	if err != nil {
		return Descriptor{ID: id, Group: group, Name: name}, err
	}
	return Descriptor{
		ID:       id,
		Group:    group,
		Name:     name,
		Kind:     kind,
		ReadOnly: meta&paramReadOnlyBit != 0,
	}, nil
}

// DecodeLogItem reads [id u16][type u8][group\0name\0...].
func DecodeLogItem(b []byte) (Descriptor, error) {
	if len(b) < 3 {
		return Descriptor{}, fmt.Errorf("%w: %d bytes", ErrMalformedItem, len(b))
	}
	id := binary.LittleEndian.Uint16(b[0:2])
	group, name, err := splitNames(b[3:])
	if err != nil {
		return Descriptor{}, err
	}
	kind, err := scalar.LogTags.Kind(b[2])
	if err != nil {
		return Descriptor{ID: id, Group: group, Name: name}, err
	}
	return Descriptor{ID: id, Group: group, Name: name, Kind: kind, ReadOnly: true}, nil
}

// EncodeParamItem is the inverse of DecodeParamItem.
func EncodeParamItem(d Descriptor) ([]byte, error) {
	tag, err := scalar.ParamTags.Tag(d.Kind)
	if err != nil {
		return nil, err
	}
	if d.ReadOnly {
		tag |= paramReadOnlyBit
	}
	return encodeItem(d, tag), nil
}

// EncodeLogItem is the inverse of DecodeLogItem.
func EncodeLogItem(d Descriptor) ([]byte, error) {
	tag, err := scalar.LogTags.Tag(d.Kind)
	if err != nil {
		return nil, err
	}
	return encodeItem(d, tag), nil
}

func encodeItem(d Descriptor, meta byte) []byte {
	buf := make([]byte, 3, 3+len(d.Group)+len(d.Name)+2)
	binary.LittleEndian.PutUint16(buf[0:2], d.ID)
	buf[2] = meta
	buf = append(buf, d.Group...)
	buf = append(buf, 0)
	buf = append(buf, d.Name...)
	buf = append(buf, 0)
	return buf
}

// splitNames reads "group\0name\0"; anything after the second NUL is ignored.
// A name that runs to the end of the frame without its NUL is accepted.
func splitNames(b []byte) (string, string, error) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", "", fmt.Errorf("%w: unterminated group name", ErrMalformedItem)
	}
	group := string(b[:i])
	rest := b[i+1:]
	if j := bytes.IndexByte(rest, 0); j >= 0 {
		rest = rest[:j]
	}
	name := string(rest)
	if strings.TrimSpace(group) == "" || strings.TrimSpace(name) == "" {
		return "", "", fmt.Errorf("%w: empty group or name", ErrMalformedItem)
	}
	return group, name, nil
}
