package osdp

import (
	"bytes"
	"fmt"
)

// SOM is the fixed start-of-message byte (spec.md §4.1/Glossary).
const SOM = 0x53

// SCB type bytes observed on the wire (spec.md §4.2).
const (
	scsChlng  = 0x11 // CP->PD CHLNG
	scsCcrypt = 0x12 // PD->CP CCRYPT
	scsScrypt = 0x13 // CP->PD SCRYPT
	scsRmacI  = 0x14 // PD->CP RMAC_I
	scsP15    = 0x15 // CP->PD plaintext+MAC
	scsP16    = 0x16 // PD->CP plaintext+MAC
	scsP17    = 0x17 // CP->PD encrypted+MAC
	scsP18    = 0x18 // PD->CP encrypted+MAC
)

const (
	msgctlSeqMask  = 0x03
	msgctlCRCBit   = 0x04
	msgctlSCBBit   = 0x08
	macTrailerLen  = 8
	minFrameLen    = 5 // SOM, address, len(2), msgctl with no SCB/checksum and zero-length payload is not reachable, but bounds the scan
)

// scb is a parsed (or to-be-built) Secure Channel Block.
type scb struct {
	typ  byte
	data []byte
}

// decodedFrame is the result of a successful decodeFrame call.
type decodedFrame struct {
	seq        byte
	crcPresent bool
	scb        *scb
	payload    []byte // cmd code + body, decrypted and MAC-verified if applicable
	isReplay   bool
}

// decodeFrame implements the phy decoder contract of spec.md §4.1: it scans
// buf for SOM, parses exactly one packet, verifies its trailer (and the
// secure-channel MAC/encryption if applicable), and applies the sequence
// number policy. consumed is the number of leading bytes of buf that the
// caller should drop, also on failure; it is zero for DecodeIncomplete,
// where the caller keeps the bytes and waits for the rest of the packet.
//
// A nil error means df is populated and ready for command decoding (or, if
// df.isReplay, ready to be answered with the cached last reply). A non-nil
// error is always a *FrameError; e.Status tells the caller what to do next
// (spec.md §4.1/§7).
func (e *Engine) decodeFrame(buf []byte) (consumed int, df decodedFrame, err error) {
	som := bytes.IndexByte(buf, SOM)
	if som < 0 {
		return len(buf), decodedFrame{}, &FrameError{Status: DecodeNoSOM, Reason: "no SOM byte in buffer"}
	}
	if som > 0 {
		// Resynchronise: drop the garbage before SOM and let the caller
		// re-invoke us on the shifted buffer (it still owns the bytes
		// after som, which may contain a complete packet).
		return som, decodedFrame{}, &FrameError{Status: DecodeNoSOM, Reason: "SOM not at offset 0, shifting"}
	}

	if len(buf) < minFrameLen {
		return 0, decodedFrame{}, &FrameError{Status: DecodeIncomplete, Reason: "fewer than 5 header bytes"}
	}

	length := int(uint16LE(buf[2:4]))
	if length < minFrameLen || length > e.packetBufSize {
		return len(buf), decodedFrame{}, &FrameError{Status: DecodeFatal, Reason: fmt.Sprintf("implausible packet length %d", length)}
	}
	if len(buf) < length {
		return 0, decodedFrame{}, &FrameError{Status: DecodeIncomplete, Reason: "fewer bytes than advertised length"}
	}

	packet := buf[:length]
	msgctl := packet[4]
	seq := msgctl & msgctlSeqMask
	crcPresent := msgctl&msgctlCRCBit != 0
	scbPresent := msgctl&msgctlSCBBit != 0

	trailerLen := 1
	if crcPresent {
		trailerLen = 2
	}
	if length < minFrameLen+trailerLen {
		return length, decodedFrame{}, &FrameError{Status: DecodeFatal, Reason: "packet too short for its own trailer"}
	}

	body := packet[:length-trailerLen]
	trailer := packet[length-trailerLen:]
	if crcPresent {
		got := computeCRC16(body)
		want := uint16LE(trailer)
		if got != want {
			return length, decodedFrame{}, &FrameError{Status: DecodeSoftFail, Reason: "CRC mismatch"}
		}
	} else {
		if !verifyChecksum(packet) {
			return length, decodedFrame{}, &FrameError{Status: DecodeSoftFail, Reason: "checksum mismatch"}
		}
	}

	pos := 5
	var parsedSCB *scb
	if scbPresent {
		if pos >= len(body) {
			return length, decodedFrame{}, &FrameError{Status: DecodeFatal, Reason: "SCB flagged but no room for it"}
		}
		scbLen := int(body[pos])
		if scbLen < 2 || pos+scbLen > len(body) {
			return length, decodedFrame{}, &FrameError{Status: DecodeFatal, Reason: "malformed SCB length"}
		}
		scbType := body[pos+1]
		scbData := append([]byte{}, body[pos+2:pos+scbLen]...)
		parsedSCB = &scb{typ: scbType, data: scbData}
		pos += scbLen
	}

	payload := append([]byte{}, body[pos:]...)

	if parsedSCB != nil && parsedSCB.typ > scsRmacI && e.flags.isSet(FlagSCActive) {
		payload, err = e.openSecurePayload(parsedSCB.typ, payload)
		if err != nil {
			e.flags.clear(FlagSCActive)
			return length, decodedFrame{}, &FrameError{Status: DecodeSoftFail, Reason: err.Error()}
		}
	}

	accept, isReplay := e.applySequencePolicy(seq)
	if !accept {
		return length, decodedFrame{}, &FrameError{Status: DecodeSoftFail, Reason: "unexpected sequence number"}
	}

	return length, decodedFrame{seq: seq, crcPresent: crcPresent, scb: parsedSCB, payload: payload, isReplay: isReplay}, nil
}

// openSecurePayload verifies (and, for SCS_17, decrypts) an incoming secure
// payload, stripping its trailing truncated MAC. Called only while
// FlagSCActive is set and the SCB type is one of the post-handshake secure
// message types (spec.md §4.2).
func (e *Engine) openSecurePayload(scbType byte, payload []byte) ([]byte, error) {
	if len(payload) < macTrailerLen {
		return nil, fmt.Errorf("osdp: secure payload shorter than its MAC trailer")
	}
	body := payload[:len(payload)-macTrailerLen]
	trailer := payload[len(payload)-macTrailerLen:]
	iv := append([]byte{}, e.sc.cbcIV()...) // running MAC before this frame advances it

	expected, err := e.sc.computeCMAC(body)
	if err != nil {
		return nil, fmt.Errorf("osdp: MAC computation failed: %w", err)
	}
	if !bytes.Equal(expected, trailer) {
		return nil, fmt.Errorf("osdp: MAC verification failed")
	}

	if scbType == scsP17 {
		if len(body) == 0 {
			return body, nil
		}
		if len(body)%16 != 0 {
			return nil, fmt.Errorf("osdp: encrypted payload not block aligned")
		}
		plain, err := aesCBCDecrypt(e.sc.sEnc[:], iv, body)
		if err != nil {
			return nil, fmt.Errorf("osdp: decrypt failed: %w", err)
		}
		return plain, nil
	}
	return body, nil
}

// applySequencePolicy implements spec.md §4.1's sequence handling. It
// returns accept=false for anything that must soft-fail; when accept is
// true, isReplay tells the caller whether this is a genuine new command
// (advance lastAcceptedSeq, decode+enqueue) or a retransmit request
// (resend the cached last reply, do not decode again).
func (e *Engine) applySequencePolicy(seq byte) (accept bool, isReplay bool) {
	if seq == 0 {
		e.lastAcceptedSeq = -1
	}
	if int8(seq) == e.lastAcceptedSeq {
		return true, true
	}
	expected := (e.lastAcceptedSeq + 1) % 4
	if expected < 0 {
		expected += 4
	}
	if int8(seq) == expected {
		e.lastAcceptedSeq = int8(seq)
		return true, false
	}
	return false, false
}

// encodeFrame builds a complete on-wire reply packet: header, optional SCB,
// payload, and trailer (spec.md §4.1 encoder contract). replySCB may be nil
// for a plain (non-secure, non-handshake) reply.
func (e *Engine) encodeFrame(seq byte, crcPresent bool, replySCB *scb, payload []byte) []byte {
	scbBytes := []byte{}
	if replySCB != nil {
		scbBytes = append([]byte{byte(len(replySCB.data) + 2), replySCB.typ}, replySCB.data...)
	}

	trailerLen := 1
	if crcPresent {
		trailerLen = 2
	}

	length := 5 + len(scbBytes) + len(payload) + trailerLen
	out := make([]byte, length)
	out[0] = SOM
	out[1] = e.address | 0x80
	putUint16LE(out[2:4], uint16(length))

	msgctl := seq & msgctlSeqMask
	if crcPresent {
		msgctl |= msgctlCRCBit
	}
	if replySCB != nil {
		msgctl |= msgctlSCBBit
	}
	out[4] = msgctl

	pos := 5
	copy(out[pos:], scbBytes)
	pos += len(scbBytes)
	copy(out[pos:], payload)
	pos += len(payload)

	if crcPresent {
		putUint16LE(out[pos:pos+2], computeCRC16(out[:pos]))
	} else {
		out[pos] = computeChecksum(out[:pos])
	}
	return out
}

// buildSecureReplySCB selects the post-handshake SMB for an outgoing reply,
// per spec.md §4.4: "installs SMB = {2, SCS_18 if payload>1 else SCS_16}".
func buildSecureReplySCB(payloadLen int) *scb {
	typ := byte(scsP16)
	if payloadLen > 1 {
		typ = scsP18
	}
	return &scb{typ: typ}
}

// sealSecurePayload encrypts (for SCS_18) and appends the truncated C-MAC
// trailer to an outgoing reply payload whose SCB was chosen by
// buildSecureReplySCB.
func (e *Engine) sealSecurePayload(replySCB *scb, payload []byte) ([]byte, error) {
	body := append([]byte{}, payload...)
	if replySCB.typ == scsP18 {
		padded := padISO9797M2(body)
		cipher, err := aesCBCEncrypt(e.sc.sEnc[:], e.sc.cbcIV(), padded)
		if err != nil {
			return nil, err
		}
		body = cipher
	}
	trailer, err := e.sc.computeCMAC(body)
	if err != nil {
		return nil, err
	}
	return append(body, trailer...), nil
}
