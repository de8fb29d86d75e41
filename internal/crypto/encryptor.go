package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
)

// Cipher geometry. The mesh uses AES-128 throughout: a keystream derived by
// encrypting the packet nonce in ECB mode, and an AES-CMAC tag over the
// whole packet (clear header plus ciphertext).
const (
	// KeySize is the AES-128 key size in bytes.
	KeySize = 16

	// NonceSize is the packet nonce size in bytes.
	NonceSize = 16

	// TagSize is the CMAC authentication tag size in bytes.
	TagSize = 16

	// HeaderLen is the number of leading packet bytes that stay cleartext.
	// The 4-byte packet counter doubles as part of the nonce, so the
	// receiver must be able to read it before decrypting.
	HeaderLen = 4
)

// Errors for packet crypto operations.
var (
	ErrInvalidKeySize   = errors.New("crypto: invalid key size, must be 16 bytes")
	ErrInvalidNonceSize = errors.New("crypto: invalid nonce size, must be 16 bytes")
	ErrPacketTooShort   = errors.New("crypto: packet shorter than header plus tag")
	ErrInvalidTag       = errors.New("crypto: authentication tag mismatch")
)

// Encryptor performs authenticated packet encryption with a session
// transport key. It is stateless apart from the expanded key schedule and
// safe for concurrent use; the caller supplies the per-packet nonce.
type Encryptor struct {
	block cipher.Block

	// CMAC subkeys per RFC 4493.
	k1 [aes.BlockSize]byte
	k2 [aes.BlockSize]byte
}

// NewEncryptor creates an Encryptor from a 16-byte transport key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: create cipher: %w", err)
	}

	e := &Encryptor{block: block}
	e.deriveSubkeys()
	return e, nil
}

// EncryptThenMAC encrypts packet[HeaderLen:] in place of the plaintext,
// leaves the header clear, and appends a 16-byte CMAC tag computed over the
// header and ciphertext. The input slice is not modified.
func (e *Encryptor) EncryptThenMAC(packet, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonceSize
	}
	if len(packet) < HeaderLen {
		return nil, ErrPacketTooShort
	}

	out := make([]byte, len(packet), len(packet)+TagSize)
	copy(out, packet[:HeaderLen])
	e.keystreamXOR(nonce, out[HeaderLen:], packet[HeaderLen:])

	var tag [aes.BlockSize]byte
	e.cmac(out, &tag)
	return append(out, tag[:]...), nil
}

// DecryptAndVerify checks the trailing CMAC tag and returns the decrypted
// payload without the clear header. The tag is verified in constant time;
// decryption always runs so tag failures are not distinguishable by timing.
func (e *Encryptor) DecryptAndVerify(packet, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonceSize
	}
	if len(packet) < HeaderLen+TagSize {
		return nil, ErrPacketTooShort
	}

	ciphertext, packetTag := packet[:len(packet)-TagSize], packet[len(packet)-TagSize:]

	plaintext := make([]byte, len(ciphertext)-HeaderLen)
	e.keystreamXOR(nonce, plaintext, ciphertext[HeaderLen:])

	var tag [aes.BlockSize]byte
	e.cmac(ciphertext, &tag)
	if subtle.ConstantTimeCompare(tag[:], packetTag) != 1 {
		return nil, ErrInvalidTag
	}
	return plaintext, nil
}

// keystreamXOR XORs src into dst with the packet keystream. Block i of the
// keystream is AES(nonce with LE32(i) in bytes 12..15). This is CTR mode
// with the counter embedded in the nonce tail rather than appended.
func (e *Encryptor) keystreamXOR(nonce []byte, dst, src []byte) {
	var ctrBlock [aes.BlockSize]byte
	var ks [aes.BlockSize]byte
	copy(ctrBlock[:], nonce)

	for i, counter := 0, uint32(0); i < len(src); i, counter = i+aes.BlockSize, counter+1 {
		binary.LittleEndian.PutUint32(ctrBlock[12:], counter)
		e.block.Encrypt(ks[:], ctrBlock[:])

		end := i + aes.BlockSize
		if end > len(src) {
			end = len(src)
		}
		for j := i; j < end; j++ {
			dst[j] = src[j] ^ ks[j-i]
		}
	}
}

// cmac computes AES-CMAC (RFC 4493) over data into tag.
func (e *Encryptor) cmac(data []byte, tag *[aes.BlockSize]byte) {
	var x, block [aes.BlockSize]byte

	n := len(data) / aes.BlockSize
	rem := len(data) % aes.BlockSize
	full := n
	if rem == 0 && n > 0 {
		full = n - 1
	}

	for i := 0; i < full; i++ {
		xorBlock(&x, data[i*aes.BlockSize:])
		e.block.Encrypt(x[:], x[:])
	}

	// Last block: XOR with K1 when complete, pad and XOR with K2 otherwise.
	if rem == 0 && n > 0 {
		copy(block[:], data[full*aes.BlockSize:])
		for i := range block {
			block[i] ^= e.k1[i]
		}
	} else {
		tail := data[full*aes.BlockSize:]
		copy(block[:], tail)
		block[len(tail)] = 0x80
		for i := len(tail) + 1; i < aes.BlockSize; i++ {
			block[i] = 0
		}
		for i := range block {
			block[i] ^= e.k2[i]
		}
	}

	xorBlock(&x, block[:])
	e.block.Encrypt(tag[:], x[:])
}

// deriveSubkeys computes the RFC 4493 subkeys K1 and K2.
func (e *Encryptor) deriveSubkeys() {
	var l [aes.BlockSize]byte
	e.block.Encrypt(l[:], l[:])
	shiftLeft(&e.k1, &l)
	shiftLeft(&e.k2, &e.k1)
}

// shiftLeft sets dst to src << 1, XORing in the GF(2^128) reduction constant
// when the high bit falls off.
func shiftLeft(dst, src *[aes.BlockSize]byte) {
	var carry byte
	for i := aes.BlockSize - 1; i >= 0; i-- {
		b := src[i]
		dst[i] = b<<1 | carry
		carry = b >> 7
	}
	if carry != 0 {
		dst[aes.BlockSize-1] ^= 0x87
	}
}

func xorBlock(x *[aes.BlockSize]byte, data []byte) {
	for i := 0; i < aes.BlockSize; i++ {
		x[i] ^= data[i]
	}
}
