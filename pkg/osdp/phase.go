package osdp

import "time"

// respTimeout is RespTimeoutMS as a time.Duration.
const respTimeout = RespTimeoutMS * time.Millisecond

// Refresh is the non-blocking worker entry point (spec.md §4.5/§5),
// intended to be called by exactly one goroutine on a fixed tick (50ms in
// cmd/osdpd/serve.go). now is supplied by the caller rather than read from
// the wall clock, so tests can drive the 400ms timeout deterministically
// (SPEC_FULL.md §4.5, Design Note F).
func (e *Engine) Refresh(now time.Time) {
	switch e.phase {
	case PhaseErr:
		e.transitionFromErr(now)
	case PhaseSendReply:
		e.sendPendingReply(now)
	default:
		e.runIdle(now)
	}
}

func (e *Engine) runIdle(now time.Time) {
	tmp := make([]byte, e.packetBufSize)
	n, err := e.channel.Recv(tmp)
	if err != nil {
		e.logger.Error("osdp: channel recv failed", "err", err)
		e.transitionToErr(now)
		return
	}
	if n > 0 {
		if len(e.rxBuf) == 0 {
			e.rxStart = now
		}
		e.rxBuf = append(e.rxBuf, tmp[:n]...)
	}

	for len(e.rxBuf) > 0 {
		consumed, df, decErr := e.decodeFrame(e.rxBuf)
		if decErr == nil {
			e.rxBuf = e.rxBuf[consumed:]
			e.rxStart = time.Time{}
			e.handleDecodedFrame(df, now)
			return
		}

		fe, _ := decErr.(*FrameError)
		switch fe.Status {
		case DecodeIncomplete:
			// Keep accumulating; fall through to the timeout check below.
		case DecodeNoSOM:
			e.rxBuf = e.rxBuf[consumed:]
			if len(e.rxBuf) == 0 {
				e.rxStart = time.Time{}
			}
			if err := e.channel.Flush(); err != nil {
				e.logger.Error("osdp: flush failed after no-SOM discard", "err", err)
			}
			continue
		case DecodeSoftFail:
			e.logger.Warn("osdp: phy soft fail, discarding buffer", "reason", fe.Reason)
			e.rxBuf = nil
			e.rxStart = time.Time{}
			if err := e.channel.Flush(); err != nil {
				e.logger.Error("osdp: flush failed after soft fail", "err", err)
			}
		case DecodeFatal:
			e.logger.Error("osdp: phy fatal error", "reason", fe.Reason)
			e.transitionToErr(now)
		}
		break
	}

	if !e.rxStart.IsZero() && now.Sub(e.rxStart) > respTimeout {
		e.logger.Warn("osdp: response timeout waiting for complete frame")
		e.transitionToErr(now)
	}
}

// handleDecodedFrame dispatches a successfully decoded frame: either a
// verbatim retransmit of the cached last reply (seq == last_accepted,
// spec.md §4.1/§8) or a freshly decoded command.
func (e *Engine) handleDecodedFrame(df decodedFrame, now time.Time) {
	if df.isReplay {
		if e.lastReplyFrame == nil {
			e.logger.Warn("osdp: replay requested but no prior reply is cached")
			return
		}
		e.pendingReplyFrame = e.lastReplyFrame
		e.phase = PhaseSendReply
		return
	}

	e.cmdID = df.payload[0]
	r := e.decodeCommand(df.payload)
	e.replyID = r.code

	frame, err := e.buildReplyFrame(df, r)
	if err != nil {
		e.logger.Error("osdp: reply build failed", "err", err)
		e.transitionToErr(now)
		return
	}
	e.lastReplyFrame = frame
	e.lastReplyID = r.code
	e.pendingReplyFrame = frame
	e.phase = PhaseSendReply
}

// buildReplyFrame assembles the wire bytes for reply r answering df,
// applying the generic post-handshake secure wrap (spec.md §4.4) unless r
// already carries its own handshake SCB.
func (e *Engine) buildReplyFrame(df decodedFrame, r reply) ([]byte, error) {
	payload := append([]byte{r.code}, r.body...)

	replySCB := r.scb
	if replySCB == nil && e.flags.isSet(FlagSCActive) {
		replySCB = buildSecureReplySCB(len(payload))
		sealed, err := e.sealSecurePayload(replySCB, payload)
		if err != nil {
			return nil, err
		}
		payload = sealed
	}

	return e.encodeFrame(df.seq, df.crcPresent, replySCB, payload), nil
}

func (e *Engine) sendPendingReply(now time.Time) {
	n, err := e.channel.Send(e.pendingReplyFrame)
	if err != nil || n != len(e.pendingReplyFrame) {
		e.logger.Error("osdp: reply send failed", "err", err, "sent", n, "want", len(e.pendingReplyFrame))
		e.transitionToErr(now)
		return
	}
	e.pendingReplyFrame = nil
	e.phase = PhaseIdle
	e.tstamp = now
}

// transitionToErr requests the ERR recovery performed on the next Refresh
// call (spec.md §4.5: ERR clears SC, resets phy state, flushes, and
// returns to IDLE; this happens on the tick after entry so the transition
// itself never blocks).
func (e *Engine) transitionToErr(now time.Time) {
	e.phase = PhaseErr
	e.tstamp = now
}

func (e *Engine) transitionFromErr(now time.Time) {
	e.flags.clear(FlagSCActive)
	scbk := e.sc.scbk // the installed base key survives ERR recovery; only derived session state resets
	e.sc = SecureChannel{}
	e.sc.scbk = scbk
	e.rxBuf = nil
	e.rxStart = time.Time{}
	e.pendingReplyFrame = nil
	e.lastAcceptedSeq = -1
	if err := e.channel.Flush(); err != nil {
		e.logger.Error("osdp: flush failed during ERR recovery", "err", err)
	}
	e.tstamp = now
	e.phase = PhaseIdle
}
