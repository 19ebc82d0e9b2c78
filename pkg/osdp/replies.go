package osdp

// Reply codes (spec.md §4.3/§4.4; ACK=0x40 matches the scenario 1 wire
// byte in spec.md §8). Note CCRYPT (0x76) and CHLNG (the command code,
// also 0x76) share a numeric value — direction (the address byte's high
// bit) disambiguates them, not the code space.
const (
	replyACK    = 0x40
	replyNAK    = 0x41
	replyPDID   = 0x45
	replyPDCAP  = 0x46
	replyLSTATR = 0x48
	replyISTATR = 0x49
	replyOSTATR = 0x4A
	replyRSTATR = 0x4B
	replyCOM    = 0x54
	replyCCRYPT = 0x76
	replyRMACI  = 0x78
)

func (e *Engine) replyACK() reply {
	return reply{code: replyACK}
}

// replyLSTATR reports the two flags spec.md §4.4 names explicitly:
// (tamper, power).
func (e *Engine) replyLSTATR() reply {
	tamper := byte(0)
	if e.flags.isSet(FlagTamper) {
		tamper = 1
	}
	power := byte(0)
	if e.flags.isSet(FlagPower) {
		power = 1
	}
	return reply{code: replyLSTATR, body: []byte{tamper, power}}
}

// replyISTATR/OSTATR/RSTATR report input/output/reader status. This engine
// does not model individual input/output points (spec.md §1: application-
// layer actuation is an external collaborator), so the body is a single
// status byte rather than a per-point bitmap; a host wiring real I/O would
// extend these.
func (e *Engine) replyISTATR() reply { return reply{code: replyISTATR, body: []byte{0}} }
func (e *Engine) replyOSTATR() reply { return reply{code: replyOSTATR, body: []byte{0}} }
func (e *Engine) replyRSTATR() reply { return reply{code: replyRSTATR, body: []byte{0}} }

// replyPDID serialises the Identity record. The wire mixes endianness
// (spec.md §4.4/Design Note E): vendor_code, serial_number are little-
// endian, firmware_version is big-endian.
func (e *Engine) replyPDID() reply {
	body := make([]byte, 9)
	putUint24LE(body[0:3], e.id.VendorCode)
	body[3] = e.id.Model
	body[4] = e.id.Version
	putUint32LE(body[5:9], e.id.SerialNumber)
	fw := make([]byte, 3)
	putUint24BE(fw, e.id.FirmwareVersion)
	return reply{code: replyPDID, body: append(body, fw...)}
}

// replyPDCAP emits one (function_code, compliance_level, num_items) triple
// per populated capability slot (spec.md §4.4).
func (e *Engine) replyPDCAP() reply {
	var body []byte
	for fc, entry := range e.caps {
		if entry.FunctionCode == CapUnused {
			continue
		}
		body = append(body, byte(fc), entry.ComplianceLevel, entry.NumItems)
	}
	return reply{code: replyPDCAP, body: body}
}

// replyCOM reports the (possibly new) address and baud rate after a
// CMD_COMSET (spec.md §4.4: "new address + new baud (4B LE)").
func (e *Engine) replyCOM(addr byte, baud uint32) reply {
	body := make([]byte, 5)
	body[0] = addr
	putUint32LE(body[1:5], baud)
	return reply{code: replyCOM, body: body}
}

// pdClientUID derives the 8-byte client identifier CCRYPT reports from the
// PD's static identity (vendor_code[3] || model[1] || serial_number[4]):
// spec.md never says where pd_client_uid comes from beyond naming the
// field, and this gives CCRYPT a value that is stable for a given PD
// without inventing a new piece of persisted state.
func (e *Engine) pdClientUID() [8]byte {
	var uid [8]byte
	putUint24LE(uid[0:3], e.id.VendorCode)
	uid[3] = e.id.Model
	putUint32LE(uid[4:8], e.id.SerialNumber)
	return uid
}

// replyCCRYPT builds the CP-challenge response: pd_client_uid || pd_random
// || pd_cryptogram, framed with SMB = {3, SCS_12, scbk_d_used?0:1}
// (spec.md §4.4).
func (e *Engine) replyCCRYPT() reply {
	uid := e.pdClientUID()
	copy(e.sc.pdClientUID[:], uid[:])

	body := make([]byte, 0, 32)
	body = append(body, uid[:]...)
	body = append(body, e.sc.pdRandom[:]...)
	body = append(body, e.sc.pdCryptogram[:]...)

	scbkDFlag := byte(1)
	if e.flags.isSet(FlagSCUseSCBKD) {
		scbkDFlag = 0
	}
	return reply{code: replyCCRYPT, body: body, scb: &scb{typ: scsCcrypt, data: []byte{scbkDFlag}}}
}

// replyRMACI builds the handshake's final reply: r_mac, framed with SMB =
// {3, SCS_14, cp_cryptogram_ok?1:0}; SC_ACTIVE is set here, and only here,
// on successful verification (spec.md §4.4, Open Question (a): fail
// closed).
func (e *Engine) replyRMACI() reply {
	ok := e.sc.verifyCPCryptogram()
	okFlag := byte(0)
	if ok {
		okFlag = 1
		if err := e.sc.computeRMACI(); err == nil {
			e.flags.set(FlagSCActive)
			if !e.scMacWarned {
				e.logger.Warn("osdp: secure-channel MAC chaining has not been checked against published conformance vectors")
				e.scMacWarned = true
			}
			if e.flags.isSet(FlagSCUseSCBKD) {
				e.logger.Warn("osdp: secure channel active using SCBK-D; install a real key via KEYSET")
			}
		} else {
			okFlag = 0
			ok = false
		}
	}
	if !ok {
		e.flags.clear(FlagSCActive)
	}
	return reply{code: replyRMACI, body: append([]byte{}, e.sc.rMac[:]...), scb: &scb{typ: scsRmacI, data: []byte{okFlag}}}
}
