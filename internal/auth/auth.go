// Package auth provides password hashing and session key primitives.
//
// It intentionally avoids policy decisions and storage concerns.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrUnknownKDF   = errors.New("auth: unknown kdf")
)

// KDF names a password key-derivation function.
type KDF string

const (
	KDFPBKDF2   KDF = "pbkdf2-sha256"
	KDFArgon2id KDF = "argon2id"
)

const (
	SaltLen       = 32
	KeyLen        = 32
	SessionKeyLen = 32
)

// Params selects the KDF and its cost for new credentials.
type Params struct {
	KDF        KDF
	Iterations uint32
	MemoryKiB  uint32
	Threads    uint8
}

func DefaultParams() Params {
	return Params{
		KDF:        KDFPBKDF2,
		Iterations: 100_000,
		MemoryKiB:  64 * 1024,
		Threads:    2,
	}
}

// ParseKDF maps a config string to a KDF.
func ParseKDF(raw string) (KDF, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "pbkdf2", string(KDFPBKDF2):
		return KDFPBKDF2, nil
	case string(KDFArgon2id), "argon2":
		return KDFArgon2id, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKDF, raw)
	}
}

// Credential is a stored password verifier. It records its own parameters
// so verification does not depend on the current configuration.
type Credential struct {
	KDF        KDF    `json:"kdf"`
	Iterations uint32 `json:"iterations"`
	MemoryKiB  uint32 `json:"memory_kib,omitempty"`
	Threads    uint8  `json:"threads,omitempty"`
	Hash       []byte `json:"hash"`
	Salt       []byte `json:"salt"`
}

// NewCredential hashes password under a fresh random salt.
func NewCredential(password string, p Params) (Credential, error) {
	salt, err := randomBytes(SaltLen)
	if err != nil {
		return Credential{}, err
	}
	c := Credential{
		KDF:        p.KDF,
		Iterations: p.Iterations,
		Salt:       salt,
	}
	if p.KDF == KDFArgon2id {
		c.MemoryKiB = p.MemoryKiB
		c.Threads = p.Threads
	}
	hash, err := derive(password, c)
	if err != nil {
		return Credential{}, err
	}
	c.Hash = hash
	return c, nil
}

// Verify returns ErrUnauthorized unless password matches c.
func Verify(password string, c Credential) error {
	hash, err := derive(password, c)
	if err != nil {
		return err
	}
	if len(c.Hash) == 0 || subtle.ConstantTimeCompare(hash, c.Hash) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func derive(password string, c Credential) ([]byte, error) {
	switch c.KDF {
	case KDFPBKDF2:
		if c.Iterations == 0 {
			return nil, fmt.Errorf("auth: pbkdf2 iterations must be positive")
		}
		return pbkdf2.Key([]byte(password), c.Salt, int(c.Iterations), KeyLen, sha256.New), nil
	case KDFArgon2id:
		if c.Iterations == 0 || c.MemoryKiB == 0 || c.Threads == 0 {
			return nil, fmt.Errorf("auth: argon2id params must be positive")
		}
		return argon2.IDKey([]byte(password), c.Salt, c.Iterations, c.MemoryKiB, c.Threads, KeyLen), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKDF, c.KDF)
	}
}

// NewSessionKey returns a random session key.
func NewSessionKey() ([]byte, error) {
	return randomBytes(SessionKeyLen)
}

// SessionKey validates presented keys against one issued key.
type SessionKey []byte

func (k SessionKey) Validate(token []byte) error {
	if len(k) == 0 {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(k, token) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("auth: read random: %w", err)
	}
	return b, nil
}
