package transport

import "sync"

// loopbackPipe is the shared state behind a connected PD/CP loopback
// pair: bytes written on one side accumulate in the buffer the other
// side's Recv drains.
type loopbackPipe struct {
	mu   sync.Mutex
	data []byte
}

func (p *loopbackPipe) write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = append(p.data, buf...)
	return len(buf), nil
}

func (p *loopbackPipe) read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.data) == 0 {
		return 0, nil
	}
	n := copy(buf, p.data)
	p.data = p.data[n:]
	return n, nil
}

func (p *loopbackPipe) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = nil
}

// LoopbackChannel is an in-memory osdp.Channel half: Send writes onto its
// outbound pipe, Recv drains its inbound pipe. Used by cmd/osdpd's
// simulate subcommand to drive a real Engine against a scripted CP
// without any actual serial hardware, and by tests that want a Channel
// double with realistic buffering semantics.
type LoopbackChannel struct {
	inbound  *loopbackPipe
	outbound *loopbackPipe
}

// NewLoopbackPair returns two connected Channel halves: bytes sent on pd
// are what cp receives, and bytes sent on cp are what pd receives —
// exactly the wire relationship between a real PD and its CP.
func NewLoopbackPair() (pd *LoopbackChannel, cp *LoopbackChannel) {
	cpToPD := &loopbackPipe{}
	pdToCP := &loopbackPipe{}
	pd = &LoopbackChannel{inbound: cpToPD, outbound: pdToCP}
	cp = &LoopbackChannel{inbound: pdToCP, outbound: cpToPD}
	return pd, cp
}

// Recv satisfies osdp.Channel.
func (l *LoopbackChannel) Recv(buf []byte) (int, error) {
	return l.inbound.read(buf)
}

// Send satisfies osdp.Channel.
func (l *LoopbackChannel) Send(buf []byte) (int, error) {
	return l.outbound.write(buf)
}

// Flush satisfies osdp.Channel, discarding whatever the peer has sent
// that hasn't been read yet.
func (l *LoopbackChannel) Flush() error {
	l.inbound.reset()
	return nil
}
