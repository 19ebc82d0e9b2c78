package osdp

import (
	"fmt"
	"log/slog"
	"time"
)

// Flags is the PD context bitset (spec.md §3).
type Flags uint16

const (
	FlagPDMode Flags = 1 << iota
	FlagTamper
	FlagPower
	FlagRTamper
	FlagSCActive
	FlagSCUseSCBKD
	FlagInstallMode
)

func (f *Flags) set(bit Flags)      { *f |= bit }
func (f *Flags) clear(bit Flags)    { *f &^= bit }
func (f Flags) isSet(bit Flags) bool { return f&bit != 0 }

// Phase is the PD per-poll phase (spec.md §4.5).
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSendReply
	PhaseErr
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseSendReply:
		return "SEND_REPLY"
	case PhaseErr:
		return "ERR"
	default:
		return "UNKNOWN"
	}
}

// Engine is a single PD protocol engine instance (spec.md Design Note (A):
// replaces the original's process-wide singleton with an owned value).
// It is not safe for concurrent Refresh calls; GetCmd may be called from a
// different goroutine than Refresh (spec.md §5).
type Engine struct {
	channel Channel
	logger  *slog.Logger

	address  byte
	baudRate int
	id       Identity
	caps     capTable

	flags     Flags
	seqNumber int8 // -1 = uninitialised; next valid expected is 0

	phase Phase
	tstamp time.Time

	cmdID   byte
	replyID byte

	sc SecureChannel

	rxBuf         []byte
	rxStart       time.Time // zero while no partial frame is pending
	packetBufSize int

	pendingReplyFrame []byte // built, awaiting Channel.Send in PhaseSendReply

	lastAcceptedSeq int8 // -1 = none accepted yet
	lastReplyFrame  []byte
	lastReplyID     byte

	queue *CommandQueue

	scMacWarned bool
}

// Setup performs one-time engine initialisation against a Channel and a
// Config (spec.md §6 "Host-facing API: setup"). The returned Engine owns
// channel for its entire lifetime; the host must never call channel's
// methods directly afterward (spec.md §5).
func Setup(channel Channel, cfg Config) (*Engine, error) {
	if channel == nil {
		return nil, fmt.Errorf("osdp: channel must not be nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		channel:         channel,
		logger:          slog.Default(),
		address:         cfg.Address,
		baudRate:        cfg.BaudRate,
		id:              cfg.ID,
		caps:            newCapTable(cfg.Capabilities),
		seqNumber:       -1,
		lastAcceptedSeq: -1,
		phase:           PhaseIdle,
		tstamp:          time.Now(),
		packetBufSize:   cfg.packetBufSize(),
		queue:           newCommandQueue(cfg.queueCapacity()),
	}
	e.flags.set(FlagPDMode)

	if cfg.SCBK == nil {
		e.flags.set(FlagInstallMode)
		e.flags.set(FlagSCUseSCBKD)
		copy(e.sc.scbk[:], DefaultSCBKD[:])
		e.logger.Warn("osdp: install mode active, using default SCBK-D")
	} else {
		copy(e.sc.scbk[:], cfg.SCBK)
	}

	return e, nil
}

// SetLogger overrides the engine's structured logger (default
// slog.Default()).
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Address reports the PD's configured 7-bit address.
func (e *Engine) Address() byte { return e.address }

// Phase reports the engine's current phy phase (for diagnostics/tests).
func (e *Engine) Phase() Phase { return e.phase }

// SCActive reports whether the secure channel is currently active.
func (e *Engine) SCActive() bool { return e.flags.isSet(FlagSCActive) }

// SetTamper updates the PD_FLAG_TAMPER bit, normally driven by a host-side
// GPIO poller (internal/sensors) rather than the engine itself.
func (e *Engine) SetTamper(tampered bool) {
	if tampered {
		e.flags.set(FlagTamper)
	} else {
		e.flags.clear(FlagTamper)
	}
}

// SetPower updates the PD_FLAG_POWER bit.
func (e *Engine) SetPower(ok bool) {
	if ok {
		e.flags.set(FlagPower)
	} else {
		e.flags.clear(FlagPower)
	}
}

// SetReaderTamper updates the PD_FLAG_R_TAMPER bit (reader-side tamper,
// distinct from the PD's own enclosure tamper switch).
func (e *Engine) SetReaderTamper(tampered bool) {
	if tampered {
		e.flags.set(FlagRTamper)
	} else {
		e.flags.clear(FlagRTamper)
	}
}

// GetCmd drains the next decoded application command, or returns
// (Command{}, false) if the queue is empty. It never blocks (spec.md
// §4.6/§6 "pd_get_cmd").
func (e *Engine) GetCmd() (Command, bool) {
	return e.queue.pop()
}
