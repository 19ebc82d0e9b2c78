package osdp

import (
	"bytes"
	"log/slog"
	"testing"
)

func newTestSecureChannel(t *testing.T) *SecureChannel {
	t.Helper()
	sc := &SecureChannel{}
	copy(sc.scbk[:], DefaultSCBKD[:])
	return sc
}

func TestSecureChannelKeyDerivationDeterministic(t *testing.T) {
	sc1 := newTestSecureChannel(t)
	sc2 := newTestSecureChannel(t)
	cpRandom := [8]byte{0, 1, 2, 3, 4, 5, 6, 7}

	if err := sc1.init(cpRandom); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := sc2.init(cpRandom); err != nil {
		t.Fatalf("init: %v", err)
	}
	if sc1.sEnc != sc2.sEnc || sc1.sMac1 != sc2.sMac1 || sc1.sMac2 != sc2.sMac2 {
		t.Fatalf("key derivation is not deterministic for identical inputs")
	}

	sc3 := newTestSecureChannel(t)
	if err := sc3.init([8]byte{7, 6, 5, 4, 3, 2, 1, 0}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if sc3.sEnc == sc1.sEnc {
		t.Fatalf("different cp_random produced the same S-ENC")
	}
}

func TestSecureChannelCryptogramRoundTrip(t *testing.T) {
	sc := newTestSecureChannel(t)
	cpRandom := [8]byte{0, 1, 2, 3, 4, 5, 6, 7}
	if err := sc.init(cpRandom); err != nil {
		t.Fatalf("init: %v", err)
	}
	pdRandom, err := randomBytes(8)
	if err != nil {
		t.Fatalf("randomBytes: %v", err)
	}
	copy(sc.pdRandom[:], pdRandom)
	if err := sc.computePDCryptogram(); err != nil {
		t.Fatalf("computePDCryptogram: %v", err)
	}

	// Simulate what a conformant CP would send back: AES-ECB(S-ENC,
	// pd_random||cp_random), the same formula verifyCPCryptogram checks.
	expected, err := aesECBEncrypt(sc.sEnc[:], append(append([]byte{}, sc.pdRandom[:]...), sc.cpRandom[:]...))
	if err != nil {
		t.Fatalf("aesECBEncrypt: %v", err)
	}
	copy(sc.cpCryptogram[:], expected)

	if !sc.verifyCPCryptogram() {
		t.Fatalf("verifyCPCryptogram rejected a correctly formed cryptogram")
	}

	sc.cpCryptogram[0] ^= 0xFF
	if sc.verifyCPCryptogram() {
		t.Fatalf("verifyCPCryptogram accepted a corrupted cryptogram")
	}
}

func TestSecureChannelRMACIAndCMACChain(t *testing.T) {
	sc := newTestSecureChannel(t)
	cpRandom := [8]byte{0, 1, 2, 3, 4, 5, 6, 7}
	if err := sc.init(cpRandom); err != nil {
		t.Fatalf("init: %v", err)
	}
	copy(sc.pdRandom[:], []byte{8, 9, 10, 11, 12, 13, 14, 15})

	if err := sc.computeRMACI(); err != nil {
		t.Fatalf("computeRMACI: %v", err)
	}
	firstRMAC := sc.rMac

	trailer1, err := sc.computeCMAC([]byte("first secure frame"))
	if err != nil {
		t.Fatalf("computeCMAC: %v", err)
	}
	if len(trailer1) != 8 {
		t.Fatalf("expected 8-byte truncated MAC trailer, got %d", len(trailer1))
	}
	if sc.rMac != firstRMAC {
		t.Fatalf("r_mac must not change once established; only c_mac chains forward")
	}

	trailer2, err := sc.computeCMAC([]byte("second secure frame"))
	if err != nil {
		t.Fatalf("computeCMAC: %v", err)
	}
	if bytes.Equal(trailer1, trailer2) {
		t.Fatalf("MAC chain produced the same trailer for two different frames")
	}
}

func TestSecureChannelDebugLogDoesNotPanic(t *testing.T) {
	sc := newTestSecureChannel(t)
	if err := sc.init([8]byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("init: %v", err)
	}
	sc.debugLogDerivedKeys(slog.Default())
}
