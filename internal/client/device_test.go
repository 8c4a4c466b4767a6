package client

import (
	"encoding/binary"
	"sync"

	"github.com/danmuck/crtplink/internal/logstore"
	"github.com/danmuck/crtplink/internal/param"
	"github.com/danmuck/crtplink/internal/protocol/crtp"
	"github.com/danmuck/crtplink/internal/protocol/scalar"
	"github.com/danmuck/crtplink/internal/protocol/toc"
)

// fakeDevice answers param, log and TOC requests the way firmware does.
type fakeDevice struct {
	mu        sync.Mutex
	params    []toc.Descriptor
	logvars   []toc.Descriptor
	paramHash uint32
	logHash   uint32
	values    map[uint16][]byte

	ignoreReset bool
	ignoreInfo  bool
	itemReqs    map[crtp.Port]int
	infoReqs    map[crtp.Port]int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		params: []toc.Descriptor{
			{ID: 0, Group: "ring", Name: "effect", Kind: scalar.U16},
			{ID: 1, Group: "firmware", Name: "revision", Kind: scalar.U32, ReadOnly: true},
		},
		logvars: []toc.Descriptor{
			{ID: 0, Group: "pm", Name: "vbat", Kind: scalar.U16, ReadOnly: true},
			{ID: 1, Group: "stab", Name: "roll", Kind: scalar.F32, ReadOnly: true},
		},
		paramHash: 0xABCD,
		logHash:   0x1234,
		values:    map[uint16][]byte{0: {0x05, 0x00}, 1: {0x2A, 0, 0, 0}},
		itemReqs:  make(map[crtp.Port]int),
		infoReqs:  make(map[crtp.Port]int),
	}
}

func (d *fakeDevice) counts(port crtp.Port) (info, items int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.infoReqs[port], d.itemReqs[port]
}

func (d *fakeDevice) respond(frame []byte) [][]byte {
	p, err := crtp.Decode(frame)
	if err != nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case p.Channel == toc.Channel && (p.Port == crtp.PortParam || p.Port == crtp.PortLog):
		return d.tocResponse(p)
	case p.Port == crtp.PortLog && p.Channel == logstore.ChannelControl:
		cmd := logstore.Command(p.Payload[0])
		if cmd == logstore.CmdReset {
			if d.ignoreReset {
				return nil
			}
			return [][]byte{encode(p.Port, p.Channel, []byte{byte(cmd), 0, 0})}
		}
		return [][]byte{encode(p.Port, p.Channel, []byte{byte(cmd), p.Payload[1], 0})}
	case p.Port == crtp.PortParam && p.Channel == param.ChannelWrite:
		id := binary.LittleEndian.Uint16(p.Payload[0:2])
		d.values[id] = append([]byte(nil), p.Payload[2:]...)
		return [][]byte{encode(p.Port, p.Channel, p.Payload)}
	case p.Port == crtp.PortParam && p.Channel == param.ChannelRead:
		id := binary.LittleEndian.Uint16(p.Payload[0:2])
		return [][]byte{encode(p.Port, p.Channel, append(p.Payload[:2:2], d.values[id]...))}
	}
	return nil
}

func (d *fakeDevice) tocResponse(p crtp.Packet) [][]byte {
	items, hash := d.params, d.paramHash
	enc := toc.EncodeParamItem
	if p.Port == crtp.PortLog {
		items, hash = d.logvars, d.logHash
		enc = toc.EncodeLogItem
	}
	switch p.Payload[0] {
	case toc.CmdInfo:
		d.infoReqs[p.Port]++
		if d.ignoreInfo {
			return nil
		}
		body := []byte{toc.CmdInfo, 0, 0, 0, 0, 0, 0}
		binary.LittleEndian.PutUint16(body[1:3], uint16(len(items)))
		binary.LittleEndian.PutUint32(body[3:7], hash)
		if p.Port == crtp.PortLog {
			body = append(body, 16, 128)
		}
		return [][]byte{encode(p.Port, p.Channel, body)}
	case toc.CmdItem:
		d.itemReqs[p.Port]++
		idx := binary.LittleEndian.Uint16(p.Payload[1:3])
		if int(idx) >= len(items) {
			return nil
		}
		b, err := enc(items[idx])
		if err != nil {
			return nil
		}
		return [][]byte{encode(p.Port, p.Channel, append([]byte{toc.CmdItem}, b...))}
	}
	return nil
}

func encode(port crtp.Port, ch crtp.Channel, payload []byte) []byte {
	frame, err := crtp.Encode(crtp.NewPacket(port, ch, payload))
	if err != nil {
		panic(err)
	}
	return frame
}
