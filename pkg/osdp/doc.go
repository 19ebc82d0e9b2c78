/*
Package osdp implements the Peripheral Device (PD) side of an OSDP-style
access-control serial protocol: a half-duplex, multi-drop, byte-oriented
request/reply protocol in which a Control Panel (CP) polls one or more PDs
over a shared serial link.

This package owns the protocol's hard core:

  - the physical-layer framing codec (start-of-message, address, length,
    CRC/checksum, optional secure-message block)
  - the command-decode / reply-build dispatcher
  - the per-poll phase state machine with response-timeout handling
  - the AES-128 secure-channel handshake, cryptogram computation, and
    MAC chaining, since these alter the framing layer

It deliberately does not own the serial transport (see Channel), process
bootstrap, or application-layer handling of decoded commands (see Command
and Engine.GetCmd) — those are host concerns, wired up in cmd/osdpd.

# Usage

	eng, err := osdp.Setup(channel, cfg)
	...
	for range time.Tick(50 * time.Millisecond) {
	        eng.Refresh(time.Now())
	        for {
	                cmd, ok := eng.GetCmd()
	                if !ok {
	                        break
	                }
	                // handle cmd
	        }
	}
*/
package osdp
