package osdp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// aesECBEncrypt encrypts exactly one 16-byte block with AES-128 in ECB
// mode (no chaining, no padding) — used for the secure-channel key
// derivation and cryptogram computation, which both operate on single
// fixed-size blocks per spec.md §4.2.
func aesECBEncrypt(key, block []byte) ([]byte, error) {
	if len(block) != 16 {
		return nil, fmt.Errorf("osdp: ECB input must be 16 bytes, got %d", len(block))
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 16)
	c.Encrypt(out, block)
	return out, nil
}

func aesCBCEncrypt(key, iv, data []byte) ([]byte, error) {
	if len(data)%16 != 0 {
		return nil, fmt.Errorf("osdp: CBC encrypt: data not block aligned (%d bytes)", len(data))
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(c, iv).CryptBlocks(out, data)
	return out, nil
}

func aesCBCDecrypt(key, iv, data []byte) ([]byte, error) {
	if len(data)%16 != 0 {
		return nil, fmt.Errorf("osdp: CBC decrypt: data not block aligned (%d bytes)", len(data))
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(c, iv).CryptBlocks(out, data)
	return out, nil
}

// randomBytes fills a freshly allocated n-byte slice from a cryptographic
// RNG — used for the 8-byte PD random nonce.
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

func xorInto(dst, a, b []byte) {
	for i := range dst {
		dst[i] = a[i] ^ b[i]
	}
}

// macChain computes a MAC over data using the ISO/IEC 9797-1
// algorithm-3-shaped CBC-MAC the secure channel uses for R-MAC/C-MAC
// (spec.md §4.2; SPEC_FULL.md Open Question (c)): every block but the
// last is encrypted under k1 chained with the running IV, the final block
// is encrypted under k2. data must already be padded to a multiple of 16
// bytes by the caller (ISO padISO9797M2 below).
func macChain(k1, k2, iv, data []byte) ([]byte, error) {
	if len(data)%16 != 0 || len(data) == 0 {
		return nil, errors.New("osdp: macChain requires non-empty 16-byte-aligned data")
	}
	c1, err := aes.NewCipher(k1)
	if err != nil {
		return nil, err
	}
	c2, err := aes.NewCipher(k2)
	if err != nil {
		return nil, err
	}
	running := make([]byte, 16)
	copy(running, iv)
	blocks := len(data) / 16
	block := make([]byte, 16)
	for i := 0; i < blocks; i++ {
		xorInto(block, running, data[i*16:i*16+16])
		if i == blocks-1 {
			c2.Encrypt(running, block)
		} else {
			c1.Encrypt(running, block)
		}
	}
	return running, nil
}

// padISO9797M2 pads data with a mandatory 0x80 byte followed by zeroes up
// to the next 16-byte boundary (ISO/IEC 9797-1 padding method 2). Unlike
// PKCS#7, this pads even block-aligned input with a full extra block so
// the padding is always unambiguously removable.
func padISO9797M2(data []byte) []byte {
	padLen := 16 - (len(data) % 16)
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	out[len(data)] = 0x80
	return out
}
