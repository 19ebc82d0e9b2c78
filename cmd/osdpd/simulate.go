package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/osdp-pd/internal/transport"
	"github.com/barnettlynn/osdp-pd/pkg/osdp"
)

var (
	simAddress  int
	simBaudRate int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive a PD engine against a scripted CP over an in-memory loopback",
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simAddress, "address", 0x01, "PD address")
	simulateCmd.Flags().IntVar(&simBaudRate, "baud", 9600, "simulated baud rate (cosmetic only)")
}

// runSimulate plays a minimal CP: it sends five POLLs back to back, with
// the sequence number advancing modulo 4, and prints the raw bytes of each
// reply, the way ro/main.go polls a reader and prints a tag's state on
// every scan.
func runSimulate(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	pdChannel, cpChannel := transport.NewLoopbackPair()

	cfg := osdp.Config{
		Address:  byte(simAddress),
		BaudRate: simBaudRate,
		ID: osdp.Identity{
			VendorCode:   0x010203,
			Model:        1,
			Version:      1,
			SerialNumber: 0x00000001,
		},
		Capabilities: []osdp.Capability{
			{FunctionCode: osdp.CapOutputControl, ComplianceLevel: 1, NumItems: 4},
			{FunctionCode: osdp.CapReaderLEDControl, ComplianceLevel: 1, NumItems: 1},
		},
	}

	engine, err := osdp.Setup(pdChannel, cfg)
	if err != nil {
		return fmt.Errorf("set up engine: %w", err)
	}
	engine.SetLogger(logger)

	const pollCount = 5
	var seq byte
	for i := 0; i < pollCount; i++ {
		frame := buildPollFrame(byte(simAddress), seq)
		if _, err := cpChannel.Send(frame); err != nil {
			return fmt.Errorf("send poll: %w", err)
		}

		now := time.Now()
		engine.Refresh(now) // IDLE: decode the poll, build the reply
		engine.Refresh(now) // SEND_REPLY: emit it

		reply := make([]byte, 256)
		n, err := cpChannel.Recv(reply)
		if err != nil {
			return fmt.Errorf("recv reply: %w", err)
		}
		fmt.Printf("poll %d (seq %d): reply = % x\n", i, seq, reply[:n])

		seq = (seq + 1) % 4
	}

	return nil
}

// buildPollFrame hand-assembles a bare CMD_POLL frame the way a minimal CP
// would, without reaching into the PD engine's own (unexported) encoder.
func buildPollFrame(address, seq byte) []byte {
	const (
		som     = 0x53
		cmdPoll = 0x60
	)
	payload := []byte{cmdPoll}
	length := 5 + len(payload) + 2
	out := make([]byte, length)
	out[0] = som
	out[1] = address
	out[2] = byte(length)
	out[3] = byte(length >> 8)
	out[4] = seq & 0x03
	out[4] |= 0x04 // MSGCTL: CRC present
	copy(out[5:], payload)
	crc := crc16ITUT(out[:5+len(payload)])
	out[5+len(payload)] = byte(crc)
	out[5+len(payload)+1] = byte(crc >> 8)
	return out
}

// crc16ITUT mirrors pkg/osdp's wire-format CRC (seed 0x1D0F, poly 0x1021,
// MSB-first, no reflection, no final XOR) so the scripted CP's frames are
// byte-compatible with the real engine without importing its unexported
// codec.
func crc16ITUT(data []byte) uint16 {
	var crc uint16 = 0x1D0F
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
