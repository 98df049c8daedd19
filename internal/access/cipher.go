package access

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters for keypad codes.
const (
	cipherIterations = 100000
	cipherKeyLen     = sha256.Size // 32-byte derived key
	cipherSaltLen    = 32
)

// Cipher salts and hashes keypad codes and verifies presented codes against
// stored hashes.
//
// Keypad codes have little entropy (4-8 digits), so the iteration count is
// kept high to slow offline brute force of a leaked snapshot.
//
// Thread Safety: Cipher is immutable and safe for concurrent use.
type Cipher struct {
	iterations int
	rand       io.Reader
}

// NewCipher returns a Cipher using PBKDF2-HMAC-SHA256 with 100,000 iterations.
func NewCipher() *Cipher {
	return &Cipher{iterations: cipherIterations, rand: rand.Reader}
}

// Iterations returns the PBKDF2 iteration count.
func (c *Cipher) Iterations() int {
	return c.iterations
}

// GenerateSalt returns 32 bytes from a cryptographically strong source.
func (c *Cipher) GenerateSalt() ([]byte, error) {
	salt := make([]byte, cipherSaltLen)
	if _, err := io.ReadFull(c.rand, salt); err != nil {
		return nil, fmt.Errorf("%w: generating salt: %w", ErrEncryption, err)
	}
	return salt, nil
}

// Hash derives the fixed-length PBKDF2 key for value under salt.
func (c *Cipher) Hash(value string, salt []byte) []byte {
	return pbkdf2.Key([]byte(value), salt, c.iterations, cipherKeyLen, sha256.New)
}

// Encrypt hashes code under a fresh salt and returns both, hex encoded.
// A new salt is generated on every call, so encrypting the same code twice
// yields different salts and different hashes.
func (c *Cipher) Encrypt(code string) (salt, hash string, err error) {
	if code == "" {
		return "", "", fmt.Errorf("%w: code is empty", ErrEncryption)
	}

	raw, err := c.GenerateSalt()
	if err != nil {
		return "", "", err
	}

	return hex.EncodeToString(raw), hex.EncodeToString(c.Hash(code, raw)), nil
}

// Verify reports whether code is the value that produced hash under salt.
//
// The final comparison takes time independent of where the first mismatching
// byte is. Malformed or empty inputs verify as false.
func (c *Cipher) Verify(code, salt, hash string) bool {
	if code == "" || salt == "" || hash == "" {
		return false
	}

	rawSalt, err := hex.DecodeString(salt)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(hash)
	if err != nil || len(want) != cipherKeyLen {
		return false
	}

	return subtle.ConstantTimeCompare(c.Hash(code, rawSalt), want) == 1
}
