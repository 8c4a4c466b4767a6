// Package commander builds motion setpoint packets. Every builder is pure;
// sending is left to the caller.
package commander

import (
	"encoding/binary"
	"math"

	"github.com/danmuck/crtplink/internal/protocol/crtp"
)

// HighLevelChannel and GenericChannel are channel 0 of their ports.
const (
	HighLevelChannel crtp.Channel = 0
	GenericChannel   crtp.Channel = 0
)

// groupMask addresses every vehicle.
const groupMask = 0x00

type HighLevelCommand uint8

const (
	HLTakeOff HighLevelCommand = 0x01
	HLLand    HighLevelCommand = 0x02
	HLStop    HighLevelCommand = 0x03
	HLGoTo    HighLevelCommand = 0x04
)

// GenericKind is the generic setpoint type byte. Only Stop and Position are
// built here.
type GenericKind uint8

const (
	GenericStopKind     GenericKind = 0x00
	GenericVelocity     GenericKind = 0x01
	GenericZDistance    GenericKind = 0x02
	GenericCPPMEmu      GenericKind = 0x03
	GenericAltHold      GenericKind = 0x04
	GenericHover        GenericKind = 0x05
	GenericFullState    GenericKind = 0x06
	GenericPositionKind GenericKind = 0x07
)

const (
	DefaultTakeOffHeight   float32 = 0.20
	DefaultTakeOffDuration float32 = 2.0
	DefaultLandHeight      float32 = 0.0
	DefaultLandDuration    float32 = 2.0
)

func TakeOff(height, duration float32) crtp.Packet {
	return highLevel(HLTakeOff, height, duration)
}

func Land(height, duration float32) crtp.Packet {
	return highLevel(HLLand, height, duration)
}

func Stop() crtp.Packet {
	return crtp.NewPacket(crtp.PortHighLevelSetpoint, HighLevelChannel, []byte{byte(HLStop), groupMask})
}

// GoTo flies to (x, y, z, yaw) over duration seconds, relative to the
// current position when relative is set.
func GoTo(relative bool, x, y, z, yaw, duration float32) crtp.Packet {
	rel := byte(0)
	if relative {
		rel = 1
	}
	buf := make([]byte, 0, 3+5*4)
	buf = append(buf, byte(HLGoTo), groupMask, rel)
	buf = appendFloats(buf, x, y, z, yaw, duration)
	return crtp.NewPacket(crtp.PortHighLevelSetpoint, HighLevelChannel, buf)
}

func GenericStop() crtp.Packet {
	return crtp.NewPacket(crtp.PortGenericSetpoint, GenericChannel, []byte{byte(GenericStopKind)})
}

func Position(x, y, z, yaw float32) crtp.Packet {
	buf := make([]byte, 0, 1+4*4)
	buf = append(buf, byte(GenericPositionKind))
	buf = appendFloats(buf, x, y, z, yaw)
	return crtp.NewPacket(crtp.PortGenericSetpoint, GenericChannel, buf)
}

// GenericTakeOff holds a position setpoint height metres above the origin.
func GenericTakeOff(height float32) crtp.Packet {
	return Position(0, 0, height, 0)
}

func highLevel(cmd HighLevelCommand, height, duration float32) crtp.Packet {
	buf := make([]byte, 0, 2+2*4)
	buf = append(buf, byte(cmd), groupMask)
	buf = appendFloats(buf, height, duration)
	return crtp.NewPacket(crtp.PortHighLevelSetpoint, HighLevelChannel, buf)
}

func appendFloats(buf []byte, vals ...float32) []byte {
	for _, v := range vals {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}
