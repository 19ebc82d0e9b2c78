package osdp

import (
	"encoding/hex"
	"fmt"
)

// DefaultSCBKD is the well-known default Secure Channel Base Key used in
// install mode, before a real SCBK has been provisioned via CMD_KEYSET
// (spec.md §4.2).
var DefaultSCBKD = [16]byte{
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10,
}

const (
	// DefaultPacketBufSize is the default maximum framed packet size
	// (spec.md §4.1/§6).
	DefaultPacketBufSize = 256
	// DefaultQueueCapacity matches the spec's "32 per connected PD" slab
	// sizing for a single-PD engine instance (spec.md §4.6).
	DefaultQueueCapacity = 32
	// RespTimeoutMS is the IDLE->ERR response timeout (spec.md §4.5).
	RespTimeoutMS = 400
)

// ValidBaudRates enumerates the baud rates spec.md §6 allows.
var ValidBaudRates = [...]int{9600, 38400, 115200}

// Config is the one-time setup configuration for an Engine
// (spec.md §6 "Host-facing API: setup").
type Config struct {
	Address       byte
	BaudRate      int
	ID            Identity
	Capabilities  []Capability
	// SCBK is the 16-byte Secure Channel Base Key. A nil slice (or the
	// sentinel produced by ParseSCBKHex("NONE")) selects install mode,
	// where the PD uses DefaultSCBKD until CMD_KEYSET installs a real key.
	SCBK []byte
	// PacketBufSize bounds the maximum framed packet size; zero selects
	// DefaultPacketBufSize.
	PacketBufSize int
	// QueueCapacity bounds the command queue; zero selects
	// DefaultQueueCapacity.
	QueueCapacity int
}

func (c Config) validate() error {
	if c.Address > 0x7F {
		return fmt.Errorf("osdp: address 0x%02x exceeds 7 bits", c.Address)
	}
	if !isValidBaud(c.BaudRate) {
		return fmt.Errorf("osdp: baud rate %d is not one of %v", c.BaudRate, ValidBaudRates)
	}
	if c.SCBK != nil && len(c.SCBK) != 16 {
		return fmt.Errorf("osdp: SCBK must be exactly 16 bytes, got %d", len(c.SCBK))
	}
	return nil
}

func isValidBaud(baud int) bool {
	for _, b := range ValidBaudRates {
		if b == baud {
			return true
		}
	}
	return false
}

// ParseSCBKHex parses the host config's "scbk" option. The literal string
// "NONE" selects install mode (returns a nil slice, no error); any other
// value must be 32 hex characters (16 bytes).
func ParseSCBKHex(s string) ([]byte, error) {
	if s == "NONE" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("osdp: invalid scbk hex: %w", err)
	}
	if len(b) != 16 {
		return nil, fmt.Errorf("osdp: scbk must decode to 16 bytes, got %d", len(b))
	}
	return b, nil
}

func (c Config) packetBufSize() int {
	if c.PacketBufSize > 0 {
		return c.PacketBufSize
	}
	return DefaultPacketBufSize
}

func (c Config) queueCapacity() int {
	if c.QueueCapacity > 0 {
		return c.QueueCapacity
	}
	return DefaultQueueCapacity
}
