// Package auth: password hashing utilities.
//
// WHY ARGON2ID?
// Password hashes must be slow AND memory-hungry. Slowness alone (bcrypt)
// still lets an attacker run thousands of guesses in parallel on a GPU;
// argon2id also requires tens of MiB of RAM per guess, which is what GPUs
// and ASICs are short of. It is the winner of the Password Hashing
// Competition and the current OWASP first choice.
//
// Hash format (PHC string, everything needed to verify is inside it):
//
//	$argon2id$v=19$m=65536,t=3,p=2$<base64 salt>$<base64 key>
//	          ^    ^       ^   ^
//	          |    |       |   parallelism (threads)
//	          |    |       time (passes over memory)
//	          |    memory in KiB
//	          argon2 version
//
// Older rows may still hold bcrypt hashes ("$2a$…"); Verify accepts both so
// no password reset is needed when the algorithm changes.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidPassword means the password did not match the stored hash.
var ErrInvalidPassword = errors.New("auth: invalid password")

// maxPasswordBytes caps the input so a multi-megabyte "password" can't be
// used to burn CPU on every login attempt.
const maxPasswordBytes = 256

// Argon2Params is the argon2id cost configuration.
type Argon2Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params follows the OWASP recommendation of 64 MiB, t=3.
var DefaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// PasswordService provides hashing and verification.
//
// It's a struct (not free functions) so that the cost can be injected in
// tests: a few KiB of memory makes tests run in microseconds without
// changing the logic being tested.
type PasswordService struct {
	params Argon2Params

	dummyOnce sync.Once
	dummyHash string
}

// NewPasswordService creates a PasswordService with DefaultArgon2Params.
func NewPasswordService() *PasswordService {
	return &PasswordService{params: DefaultArgon2Params}
}

// NewPasswordServiceForTest uses the cheapest argon2id settings that still
// exercise the full code path. Do NOT use in production.
func NewPasswordServiceForTest() *PasswordService {
	return &PasswordService{params: Argon2Params{
		Memory:      8,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}}
}

// Hash derives an argon2id key from plaintext with a fresh random salt and
// returns it as a PHC string ready to store.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxPasswordBytes {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", maxPasswordBytes)
	}

	salt := make([]byte, p.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt,
		p.params.Iterations, p.params.Memory, p.params.Parallelism, p.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.params.Memory, p.params.Iterations, p.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify returns nil if plaintext matches hash, ErrInvalidPassword if it
// doesn't, and another error if hash is malformed.
//
// TIMING SAFETY:
// The derived key is compared with subtle.ConstantTimeCompare, so response
// time doesn't reveal how many leading bytes of a guess were right.
// The cost parameters come from the stored hash, not from p, so hashes made
// with older settings keep verifying after the defaults change.
func (p *PasswordService) Verify(hash, plaintext string) error {
	if strings.HasPrefix(hash, "$2") {
		return verifyBcrypt(hash, plaintext)
	}

	params, salt, want, err := decodeArgon2Hash(hash)
	if err != nil {
		return err
	}

	got := argon2.IDKey([]byte(plaintext), salt,
		params.Iterations, params.Memory, params.Parallelism, uint32(len(want)))

	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrInvalidPassword
	}
	return nil
}

// VerifyDummy runs a full Verify against a hash nobody owns and discards
// the result. Login calls it for unknown emails so they cost the same as a
// wrong password. The hash is built once, with p's parameters.
func (p *PasswordService) VerifyDummy(plaintext string) {
	p.dummyOnce.Do(func() {
		if h, err := p.Hash("no-such-user"); err == nil {
			p.dummyHash = h
		}
	})
	if p.dummyHash != "" {
		_ = p.Verify(p.dummyHash, plaintext)
	}
}

func verifyBcrypt(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidPassword
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

func decodeArgon2Hash(hash string) (Argon2Params, []byte, []byte, error) {
	var params Argon2Params

	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, nil, nil, errors.New("auth: unrecognised password hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, fmt.Errorf("auth: parsing hash version: %w", err)
	}
	if version != argon2.Version {
		return params, nil, nil, fmt.Errorf("auth: unsupported argon2 version %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d",
		&params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return params, nil, nil, fmt.Errorf("auth: parsing hash parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, fmt.Errorf("auth: decoding salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params, nil, nil, fmt.Errorf("auth: decoding key: %w", err)
	}

	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(key))
	return params, salt, key, nil
}
