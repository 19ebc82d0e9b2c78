package osdp

import "fmt"

// NakKind is a wire-visible NAK reason byte.
type NakKind byte

const (
	NakRecord    NakKind = 0x01 // bad command payload / unknown code
	NakCmdLen    NakKind = 0x03 // command length error (reserved; length errors are NAKed with NakRecord)
	NakCmdUnable NakKind = 0x04 // PD cannot process this command now (reserved)
	NakSeqNum    NakKind = 0x05 // unexpected sequence number (reserved)
	NakSCCond    NakKind = 0x06 // secure-channel required but inactive
	NakSCUnsup   NakKind = 0x07 // no SC capability / malformed SC block
)

func (k NakKind) String() string {
	switch k {
	case NakRecord:
		return "RECORD"
	case NakCmdLen:
		return "CMD_LEN"
	case NakCmdUnable:
		return "CMD_UNABLE"
	case NakSeqNum:
		return "SEQ_NUM"
	case NakSCCond:
		return "SC_COND"
	case NakSCUnsup:
		return "SC_UNSUP"
	default:
		return fmt.Sprintf("NAK(0x%02x)", byte(k))
	}
}

// DecodeStatus is the phy decoder's wire-contract result (spec.md §4.1).
type DecodeStatus int

const (
	// DecodeIncomplete means fewer bytes than the advertised length have
	// arrived; the caller should keep accumulating.
	DecodeIncomplete DecodeStatus = -2
	// DecodeSoftFail means a bad CRC/MAC/sequence was seen; the buffer
	// must be discarded and the channel flushed, but the PD stays IDLE.
	DecodeSoftFail DecodeStatus = -3
	// DecodeNoSOM means no start-of-message byte was found in the buffer.
	DecodeNoSOM DecodeStatus = -4
	// DecodeFatal means an unrecoverable framing error occurred; the
	// phase machine must transition to Err.
	DecodeFatal DecodeStatus = -1
)

// FrameError reports a phy-layer framing failure together with the
// decode status that drives the caller's recovery policy.
type FrameError struct {
	Status DecodeStatus
	Reason string
}

func (e *FrameError) Error() string {
	if e == nil {
		return "frame error"
	}
	return fmt.Sprintf("frame decode failed (%d): %s", e.Status, e.Reason)
}
