package osdp

// Command codes (spec.md §4.3; numeric values match the scenario 1/2 wire
// bytes in spec.md §8, e.g. POLL=0x60, LED=0x69).
const (
	cmdPOLL   = 0x60
	cmdID     = 0x61
	cmdCAP    = 0x62
	cmdLSTAT  = 0x64
	cmdISTAT  = 0x65
	cmdOSTAT  = 0x66
	cmdRSTAT  = 0x67
	cmdOUT    = 0x68
	cmdLED    = 0x69
	cmdBUZ    = 0x6A
	cmdTEXT   = 0x6B
	cmdCOMSET = 0x6E
	cmdKEYSET = 0x75
	cmdCHLNG  = 0x76
	cmdSCRYPT = 0x77
)

// reply is what decodeCommand hands back to the phase machine: a reply
// code, its serialised body, the SCB to frame it with (nil for a plain
// reply), and — for commands with a side effect — the application command
// to enqueue.
type reply struct {
	code    byte
	body    []byte
	scb     *scb
	enqueue *Command
}

// decodeCommand dispatches on the command code (payload[0]) and builds the
// reply (spec.md §4.3/§4.4, Open Question (b)): there is no error return —
// every addressed command produces a populated reply, even an unparsable
// one (NAK).
func (e *Engine) decodeCommand(payload []byte) reply {
	if len(payload) == 0 {
		return e.nak(NakRecord)
	}
	code := payload[0]
	body := payload[1:]

	switch code {
	case cmdPOLL:
		return e.replyACK()
	case cmdLSTAT:
		return e.replyLSTATR()
	case cmdISTAT:
		return e.replyISTATR()
	case cmdOSTAT:
		return e.replyOSTATR()
	case cmdRSTAT:
		return e.replyRSTATR()
	case cmdID:
		if len(body) != 1 {
			return e.nak(NakRecord)
		}
		return e.replyPDID()
	case cmdCAP:
		if len(body) != 1 {
			return e.nak(NakRecord)
		}
		return e.replyPDCAP()
	case cmdOUT:
		if len(body) != 4 {
			return e.nak(NakRecord)
		}
		cmd := Command{Kind: CmdOutput, Output: OutputCommand{
			OutputNo:    body[0],
			ControlCode: body[1],
			TimerCount:  uint16LE(body[2:4]),
		}}
		return e.enqueueAndReply(cmd, e.replyOSTATR())
	case cmdLED:
		if len(body) != 14 {
			return e.nak(NakRecord)
		}
		cmd := Command{Kind: CmdLED, LED: decodeLEDBody(body)}
		return e.enqueueAndReply(cmd, e.replyACK())
	case cmdBUZ:
		if len(body) != 5 {
			return e.nak(NakRecord)
		}
		cmd := Command{Kind: CmdBuzzer, Buzzer: BuzzerCommand{
			Reader:   body[0],
			ToneCode: body[1],
			OnCount:  body[2],
			OffCount: body[3],
			RepCount: body[4],
		}}
		return e.enqueueAndReply(cmd, e.replyACK())
	case cmdTEXT:
		return e.decodeTEXT(body)
	case cmdCOMSET:
		if len(body) != 5 {
			return e.nak(NakRecord)
		}
		cmd := Command{Kind: CmdComset, Comset: ComsetCommand{
			Addr: body[0],
			Baud: uint32LE(body[1:5]),
		}}
		return e.enqueueAndReply(cmd, e.replyCOM(body[0], uint32LE(body[1:5])))
	case cmdKEYSET:
		return e.decodeKEYSET(body)
	case cmdCHLNG:
		return e.decodeCHLNG(body)
	case cmdSCRYPT:
		return e.decodeSCRYPT(body)
	default:
		return e.nak(NakRecord)
	}
}

func decodeLEDBody(body []byte) LEDCommand {
	return LEDCommand{
		Reader:    body[0],
		LEDNumber: body[1],
		Temporary: LEDParams{
			ControlCode: body[2],
			OnCount:     body[3],
			OffCount:    body[4],
			OnColor:     body[5],
			OffColor:    body[6],
			Timer:       uint16LE(body[7:9]),
		},
		Permanent: LEDParams{
			ControlCode: body[9],
			OnCount:     body[10],
			OffCount:    body[11],
			OnColor:     body[12],
			OffColor:    body[13],
		},
	}
}

// decodeTEXT enforces spec.md §8's boundary behaviour: length field >32 is
// always a NAK(RECORD), never a fatal error.
func (e *Engine) decodeTEXT(body []byte) reply {
	if len(body) < 6 {
		return e.nak(NakRecord)
	}
	dataLen := int(body[5])
	if dataLen > 32 || len(body) != 6+dataLen {
		return e.nak(NakRecord)
	}
	cmd := Command{Kind: CmdText, Text: TextCommand{
		Reader:    body[0],
		Cmd:       body[1],
		TempTime:  body[2],
		OffsetRow: body[3],
		OffsetCol: body[4],
		Data:      append([]byte{}, body[6:6+dataLen]...),
	}}
	return e.enqueueAndReply(cmd, e.replyACK())
}

// decodeKEYSET implements spec.md §4.2's install policy: KEYSET requires
// SC_ACTIVE; key_type must be 1 and the key exactly 16 bytes.
func (e *Engine) decodeKEYSET(body []byte) reply {
	if !e.flags.isSet(FlagSCActive) {
		return e.nak(NakSCCond)
	}
	if len(body) != 18 || body[0] != 1 || body[1] != 16 {
		return e.nak(NakRecord)
	}
	var key [16]byte
	copy(key[:], body[2:18])
	cmd := Command{Kind: CmdKeyset, Keyset: KeysetCommand{KeyType: body[0], Key: key}}
	e.applyKeyset(key)
	return e.enqueueAndReply(cmd, e.replyACK())
}

func (e *Engine) applyKeyset(key [16]byte) {
	copy(e.sc.scbk[:], key[:])
	e.flags.clear(FlagSCUseSCBKD)
	e.flags.clear(FlagInstallMode)
}

// decodeCHLNG begins a secure-channel handshake (spec.md §4.2): derives
// session keys unconditionally, per the recovered original control flow
// (SPEC_FULL.md §4.2), and replies CCRYPT. SC_ACTIVE is never set here.
func (e *Engine) decodeCHLNG(body []byte) reply {
	if len(body) != 8 {
		return e.nak(NakRecord)
	}
	e.flags.clear(FlagSCActive)
	var cpRandom [8]byte
	copy(cpRandom[:], body)

	if err := e.sc.init(cpRandom); err != nil {
		e.logger.Error("osdp: secure channel key derivation failed", "err", err)
		return e.nak(NakSCUnsup)
	}
	pdRandom, err := randomBytes(8)
	if err != nil {
		e.logger.Error("osdp: PD random generation failed", "err", err)
		return e.nak(NakSCUnsup)
	}
	copy(e.sc.pdRandom[:], pdRandom)
	if err := e.sc.computePDCryptogram(); err != nil {
		e.logger.Error("osdp: cryptogram computation failed", "err", err)
		return e.nak(NakSCUnsup)
	}
	e.sc.debugLogDerivedKeys(e.logger)

	return e.replyCCRYPT()
}

// decodeSCRYPT completes the handshake: saves the CP's cryptogram, verifies
// it, and (only on success) will arm SC_ACTIVE in the RMAC_I reply path —
// see replyRMACI (Open Question (a): fail closed).
func (e *Engine) decodeSCRYPT(body []byte) reply {
	if len(body) != 16 {
		return e.nak(NakRecord)
	}
	copy(e.sc.cpCryptogram[:], body)
	return e.replyRMACI()
}

func (e *Engine) nak(kind NakKind) reply {
	return reply{code: replyNAK, body: []byte{byte(kind)}}
}

func (e *Engine) enqueueAndReply(cmd Command, r reply) reply {
	if !e.queue.push(cmd) {
		e.logger.Error("osdp: command queue full, dropping command", "kind", cmd.Kind)
		return e.nak(NakRecord)
	}
	r.enqueue = &cmd
	return r
}
