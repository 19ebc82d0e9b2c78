package main

import (
	"crypto/aes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/barnettlynn/osdp-pd/internal/transport"
	"github.com/barnettlynn/osdp-pd/pkg/osdp"
)

var keysetAddress int

var keysetCmd = &cobra.Command{
	Use:   "keyset",
	Short: "Install a new Secure Channel Base Key over a loopback-simulated CHLNG/SCRYPT/KEYSET handshake",
	Long: `keyset prompts for a new 32-hex-character SCBK (input masked the way
keyswap prompts for NTAG key material), drives a PD engine through the
install-mode CHLNG/SCRYPT handshake over an in-memory CP, then sends
CMD_KEYSET to install the new key.`,
	RunE: runKeyset,
}

func init() {
	keysetCmd.Flags().IntVar(&keysetAddress, "address", 0x01, "PD address")
}

func runKeyset(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	newKeyHex, err := readMaskedHexKey("New SCBK (32 hex chars): ")
	if err != nil {
		return fmt.Errorf("read new key: %w", err)
	}
	newKey, err := hex.DecodeString(newKeyHex)
	if err != nil || len(newKey) != 16 {
		return fmt.Errorf("SCBK must be exactly 32 hex characters (16 bytes)")
	}

	pdChannel, cpChannel := transport.NewLoopbackPair()
	cfg := osdp.Config{
		Address:  byte(keysetAddress),
		BaudRate: 9600,
		ID:       osdp.Identity{VendorCode: 0x010203, Model: 1, Version: 1, SerialNumber: 1},
		SCBK:     nil, // install mode: CHLNG/SCRYPT must succeed with DefaultSCBKD first
	}
	engine, err := osdp.Setup(pdChannel, cfg)
	if err != nil {
		return fmt.Errorf("set up engine: %w", err)
	}
	engine.SetLogger(logger)

	fmt.Println("Establishing secure channel with the default SCBK-D...")
	if err := runHandshake(engine, cpChannel, byte(keysetAddress)); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if !engine.SCActive() {
		return fmt.Errorf("secure channel did not activate; refusing to install a new key")
	}
	fmt.Println("Secure channel active. Installing new key...")

	keysetBody := append([]byte{0x01, 0x10}, newKey...)
	frame := buildCommandFrame(byte(keysetAddress), 2, 0x75, keysetBody)
	if _, err := cpChannel.Send(frame); err != nil {
		return fmt.Errorf("send keyset: %w", err)
	}
	now := time.Now()
	engine.Refresh(now)
	engine.Refresh(now)

	reply := make([]byte, 256)
	n, err := cpChannel.Recv(reply)
	if err != nil {
		return fmt.Errorf("recv keyset reply: %w", err)
	}
	fmt.Printf("KEYSET reply: % x\n", reply[:n])
	fmt.Println("Done. Record the new SCBK in the host config's pd.scbk field.")
	return nil
}

// readMaskedHexKey mirrors keyswap's terminal-driven key entry (the
// teacher's own use of golang.org/x/term): stdin is put into a mode where
// keystrokes aren't echoed, so a key typed at a terminal never appears in
// a scrollback buffer or over-the-shoulder.
func readMaskedHexKey(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// runHandshake drives a scripted CP through CHLNG/SCRYPT against engine.
// A real external CP would independently implement the same session-key
// derivation the PD does (spec.md §4.2); this reproduces exactly that
// derivation using crypto/aes directly, rather than reaching into the
// engine's unexported SecureChannel.
func runHandshake(engine *osdp.Engine, cp *transport.LoopbackChannel, address byte) error {
	cpRandom := [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	chlngFrame := buildCommandFrame(address, 0, 0x76, cpRandom[:])
	if _, err := cp.Send(chlngFrame); err != nil {
		return err
	}
	now := time.Now()
	engine.Refresh(now)
	engine.Refresh(now)

	ccryptReply := make([]byte, 256)
	n, err := cp.Recv(ccryptReply)
	if err != nil {
		return err
	}
	// ccryptReply layout: SOM,addr,len_lo,len_hi,msgctl,scb_len,scb_type,
	// scb_data,reply_code,pd_client_uid(8),pd_random(8),pd_cryptogram(16),crc(2).
	const scbHeaderLen = 3
	payloadStart := 5 + scbHeaderLen
	if n < payloadStart+1+8+8+16+2 {
		return fmt.Errorf("CCRYPT reply too short (%d bytes)", n)
	}
	body := ccryptReply[payloadStart+1 : n-2] // drop reply code and CRC trailer
	var pdRandom [8]byte
	copy(pdRandom[:], body[8:16])

	sEnc, err := deriveSessionKey(ivEncTag, cpRandom)
	if err != nil {
		return err
	}
	cpCryptogram, err := aesECBEncrypt(sEnc, append(append([]byte{}, pdRandom[:]...), cpRandom[:]...))
	if err != nil {
		return err
	}

	scryptFrame := buildCommandFrame(address, 1, 0x77, cpCryptogram)
	if _, err := cp.Send(scryptFrame); err != nil {
		return err
	}
	engine.Refresh(now)
	engine.Refresh(now)

	rmaciReply := make([]byte, 256)
	if _, err := cp.Recv(rmaciReply); err != nil {
		return err
	}
	return nil
}

var ivEncTag = [2]byte{0x01, 0x82}

// deriveSessionKey replicates pkg/osdp's S-ENC derivation (AES-ECB keyed
// by DefaultSCBKD, over a block of a 2-byte tag and the first 6 bytes of
// cp_random, zero-filled to 16 bytes)
// so this standalone CP driver can compute a conformant cp_cryptogram
// without depending on the engine's internal session state.
func deriveSessionKey(tag [2]byte, cpRandom [8]byte) ([]byte, error) {
	iv := make([]byte, 16)
	iv[0], iv[1] = tag[0], tag[1]
	copy(iv[2:8], cpRandom[:6])
	return aesECBEncrypt(osdp.DefaultSCBKD[:], iv)
}

func aesECBEncrypt(key, block []byte) ([]byte, error) {
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(block))
	for off := 0; off < len(block); off += aes.BlockSize {
		c.Encrypt(out[off:off+aes.BlockSize], block[off:off+aes.BlockSize])
	}
	return out, nil
}

func buildCommandFrame(address, seq byte, cmdCode byte, body []byte) []byte {
	payload := append([]byte{cmdCode}, body...)
	length := 5 + len(payload) + 2
	out := make([]byte, length)
	out[0] = 0x53
	out[1] = address
	out[2] = byte(length)
	out[3] = byte(length >> 8)
	out[4] = (seq & 0x03) | 0x04
	copy(out[5:], payload)
	crc := crc16ITUT(out[:5+len(payload)])
	out[5+len(payload)] = byte(crc)
	out[5+len(payload)+1] = byte(crc >> 8)
	return out
}
