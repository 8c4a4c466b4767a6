package logstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/crtplink/internal/protocol/crtp"
)

const (
	ChannelTOC     crtp.Channel = 0
	ChannelControl crtp.Channel = 1
	ChannelData    crtp.Channel = 2
)

const (
	// MaxBlockBytes is the member budget of one data packet: the 30 byte
	// payload less the block id and the 3 byte timestamp.
	MaxBlockBytes = 26
	// MaxMembers is how many [tag][id u16] entries fit in one create request.
	MaxMembers = (crtp.MaxPayload - 2) / 3

	PeriodUnit = 10 * time.Millisecond
	MinPeriod  = PeriodUnit
	MaxPeriod  = 255 * PeriodUnit

	sampleHeaderLen = 4
)

type Command uint8

const (
	CmdDelete Command = 0x02
	CmdStart  Command = 0x03
	CmdStop   Command = 0x04
	CmdReset  Command = 0x05
	CmdCreate Command = 0x06
	CmdAppend Command = 0x07
)

func (c Command) String() string {
	switch c {
	case CmdDelete:
		return "delete"
	case CmdStart:
		return "start"
	case CmdStop:
		return "stop"
	case CmdReset:
		return "reset"
	case CmdCreate:
		return "create"
	case CmdAppend:
		return "append"
	default:
		return fmt.Sprintf("cmd(0x%02X)", uint8(c))
	}
}

// Result is the device's errno-style answer to a control request.
type Result uint8

const (
	ResultOK            Result = 0
	ResultWrongBlockID  Result = 2
	ResultBlockTooLarge Result = 7
	ResultCmdNotFound   Result = 8
	ResultOutOfMemory   Result = 12
	ResultBlockExists   Result = 17
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultWrongBlockID:
		return "wrong_block_id"
	case ResultBlockTooLarge:
		return "block_too_large"
	case ResultCmdNotFound:
		return "cmd_not_found"
	case ResultOutOfMemory:
		return "out_of_memory"
	case ResultBlockExists:
		return "block_exists"
	default:
		return fmt.Sprintf("result(%d)", uint8(r))
	}
}

var (
	ErrPrecondition    = errors.New("logstore: precondition violated")
	ErrDeviceRejected  = errors.New("logstore: device rejected request")
	ErrMalformedSample = errors.New("logstore: malformed sample")
	ErrMalformed       = errors.New("logstore: malformed control response")
	ErrUnknownBlock    = errors.New("logstore: unknown block")
	ErrUnknownChannel  = errors.New("logstore: unknown channel")
	ErrUnknownCommand  = errors.New("logstore: unknown command")
)

// DeviceError carries a non-success control result. It matches
// ErrDeviceRejected.
type DeviceError struct {
	Command Command
	Block   uint8
	Result  Result
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("logstore: %s block=%d rejected: %s", e.Command, e.Block, e.Result)
}

func (e *DeviceError) Is(target error) bool {
	return target == ErrDeviceRejected
}

// periodUnits converts a period to the wire's 10 ms units.
func periodUnits(d time.Duration) (uint8, error) {
	if d < MinPeriod || d > MaxPeriod || d%PeriodUnit != 0 {
		return 0, fmt.Errorf("%w: period %s must be a multiple of %s in [%s, %s]", ErrPrecondition, d, PeriodUnit, MinPeriod, MaxPeriod)
	}
	return uint8(d / PeriodUnit), nil
}

type controlResponse struct {
	cmd    Command
	block  uint8
	result Result
}

// parseControl reads [command][blockId][result], the order the firmware's
// control response struct lays its fields out on the wire.
func parseControl(b []byte) (controlResponse, error) {
	if len(b) < 3 {
		return controlResponse{}, fmt.Errorf("%w: %d bytes", ErrMalformed, len(b))
	}
	return controlResponse{cmd: Command(b[0]), block: b[1], result: Result(b[2])}, nil
}
