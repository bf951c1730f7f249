// Package password derives and verifies one-way password hashes using
// Argon2id. Hashes are stored in PHC string format so parameters travel
// with the hash; verification is constant-time.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const phcID = "argon2id"

var (
	// ErrWeakPassword is returned when the candidate fails the minimum
	// length policy before any hashing happens.
	ErrWeakPassword = errors.New("password does not meet minimum length")

	errMalformedHash = errors.New("malformed password hash")
)

// Params are the Argon2id cost parameters. Zero values are rejected by
// NewHasher; defaults live in the engine config.
type Params struct {
	MemoryKB    uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// MinLength is the minimum accepted plaintext length in bytes.
	MinLength int
}

// Hasher hashes and verifies passwords with a fixed parameter set.
type Hasher struct {
	params Params
}

func NewHasher(p Params) (*Hasher, error) {
	switch {
	case p.MemoryKB < 8*1024:
		return nil, errors.New("argon2 memory must be >= 8192 KB")
	case p.Iterations < 1:
		return nil, errors.New("argon2 iterations must be >= 1")
	case p.Parallelism < 1:
		return nil, errors.New("argon2 parallelism must be >= 1")
	case p.SaltLength < 16:
		return nil, errors.New("argon2 salt length must be >= 16")
	case p.KeyLength < 16:
		return nil, errors.New("argon2 key length must be >= 16")
	}
	if p.MinLength <= 0 {
		p.MinLength = 8
	}
	return &Hasher{params: p}, nil
}

// Hash derives a PHC-encoded hash from the plaintext. The plaintext is
// used byte-for-byte as provided; no normalization is applied.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if len(plaintext) < h.params.MinLength {
		return "", ErrWeakPassword
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(plaintext), salt,
		h.params.Iterations, h.params.MemoryKB, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcID, argon2.Version,
		h.params.MemoryKB, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches the encoded hash. The cost
// parameters embedded in the hash are honored, so older hashes remain
// verifiable after a parameter bump.
func (h *Hasher) Verify(plaintext, encoded string) (bool, error) {
	memory, iterations, parallelism, salt, key, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(plaintext), salt,
		iterations, memory, parallelism, uint32(len(key)))

	return subtle.ConstantTimeCompare(computed, key) == 1, nil
}

func decodePHC(encoded string) (memory, iterations uint32, parallelism uint8, salt, key []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != phcID {
		err = errMalformedHash
		return
	}

	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		err = errMalformedHash
		return
	}
	if _, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		err = errMalformedHash
		return
	}
	if memory == 0 || iterations == 0 || parallelism == 0 {
		err = errMalformedHash
		return
	}

	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(salt) < 16 {
		err = errMalformedHash
		return
	}
	if key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(key) < 16 {
		err = errMalformedHash
		return
	}
	return memory, iterations, parallelism, salt, key, nil
}
