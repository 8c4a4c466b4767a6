package crtp

import (
	"errors"
	"fmt"
)

const (
	HeaderLen = 1
	// MaxPayload is the largest payload one CRTP packet carries.
	MaxPayload = 30
)

var (
	ErrMalformedPacket = errors.New("crtp: malformed packet")
	ErrInvalidPacket   = errors.New("crtp: invalid packet")
)

// Port is the 4-bit subsystem id in the header's high nibble.
type Port uint8

const (
	PortConsole           Port = 0x0
	PortParam             Port = 0x2
	PortCommander         Port = 0x3
	PortMemory            Port = 0x4
	PortLog               Port = 0x5
	PortLocalization      Port = 0x6
	PortGenericSetpoint   Port = 0x7
	PortHighLevelSetpoint Port = 0x8
	PortPlatform          Port = 0xD
	PortClientDebug       Port = 0xE
	PortLink              Port = 0xF
)

// PortCount is the size of the port address space.
const PortCount = 16

// Known reports whether p is one of the enumerated ports.
func (p Port) Known() bool {
	switch p {
	case PortConsole, PortParam, PortCommander, PortMemory, PortLog, PortLocalization,
		PortGenericSetpoint, PortHighLevelSetpoint, PortPlatform, PortClientDebug, PortLink:
		return true
	default:
		return false
	}
}

func (p Port) String() string {
	switch p {
	case PortConsole:
		return "console"
	case PortParam:
		return "param"
	case PortCommander:
		return "commander"
	case PortMemory:
		return "memory"
	case PortLog:
		return "log"
	case PortLocalization:
		return "localization"
	case PortGenericSetpoint:
		return "generic_setpoint"
	case PortHighLevelSetpoint:
		return "highlevel_setpoint"
	case PortPlatform:
		return "platform"
	case PortClientDebug:
		return "client_debug"
	case PortLink:
		return "link"
	default:
		return fmt.Sprintf("port_0x%X", uint8(p))
	}
}

// Channel is the 2-bit sub-channel within a port.
type Channel uint8

// Packet is one logical CRTP unit.
type Packet struct {
	Port    Port
	Channel Channel
	Payload []byte
}

func NewPacket(port Port, channel Channel, payload []byte) Packet {
	return Packet{Port: port, Channel: channel, Payload: payload}
}

// Header packs port and channel into the wire header byte. The link bits
// (3:2) address a secondary target and are left zero.
func Header(port Port, channel Channel) byte {
	return (byte(port)&0x0F)<<4 | byte(channel)&0x03
}

func Encode(p Packet) ([]byte, error) {
	if p.Port > 0x0F {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidPacket, p.Port)
	}
	if p.Channel > 0x03 {
		return nil, fmt.Errorf("%w: channel %d out of range", ErrInvalidPacket, p.Channel)
	}
	if len(p.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload %d bytes exceeds %d", ErrInvalidPacket, len(p.Payload), MaxPayload)
	}
	buf := make([]byte, HeaderLen+len(p.Payload))
	buf[0] = Header(p.Port, p.Channel)
	copy(buf[HeaderLen:], p.Payload)
	return buf, nil
}

func Decode(b []byte) (Packet, error) {
	if len(b) < HeaderLen {
		return Packet{}, ErrMalformedPacket
	}
	payload := make([]byte, len(b)-HeaderLen)
	copy(payload, b[HeaderLen:])
	return Packet{
		Port:    Port(b[0] >> 4),
		Channel: Channel(b[0] & 0x03),
		Payload: payload,
	}, nil
}

// Sender accepts outbound packets. Send reports only immediate failures; any
// response arrives later on the inbound path.
type Sender interface {
	Send(p Packet) error
}
