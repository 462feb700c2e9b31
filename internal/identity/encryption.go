package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	mbcrypto "github.com/meshbazaar/node/internal/crypto"
)

// Argon2id + AES-256-GCM parameters (OWASP-recommended) used to encrypt the
// node's signing-key seed at rest under an operator-supplied passphrase.
const (
	Argon2Time    = 4          // iterations
	Argon2Memory  = 256 * 1024 // 256 MiB in KiB
	Argon2Threads = 4          // threads
	Argon2KeyLen  = 32         // 256-bit key for AES-256
	Argon2SaltLen = 16         // 128-bit salt
	AESNonceLen   = 12         // 96-bit nonce for GCM
)

// EncryptedSecret is the at-rest encoding of the node's Ed25519 seed:
// Argon2id-derived key, AES-256-GCM ciphertext, and the parameters needed
// to re-derive the same key on load.
type EncryptedSecret struct {
	Salt          []byte
	Nonce         []byte
	Ciphertext    []byte
	Argon2Time    uint32
	Argon2Memory  uint32
	Argon2Threads uint8
	Version       uint8
}

// EncryptSecret encrypts the node's raw signing-key seed under password.
func EncryptSecret(secret []byte, password string) (*EncryptedSecret, error) {
	salt := make([]byte, Argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("identity: generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, Argon2Time, Argon2Memory, Argon2Threads, Argon2KeyLen)
	defer mbcrypto.ClearBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("identity: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("identity: create GCM: %w", err)
	}

	nonce := make([]byte, AESNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("identity: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, secret, nil)

	return &EncryptedSecret{
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
		Argon2Time:    Argon2Time,
		Argon2Memory:  Argon2Memory,
		Argon2Threads: Argon2Threads,
		Version:       1,
	}, nil
}

// DecryptSecret recovers the raw signing-key seed from an EncryptedSecret.
func DecryptSecret(encrypted *EncryptedSecret, password string) ([]byte, error) {
	if encrypted == nil {
		return nil, errors.New("identity: encrypted secret is nil")
	}
	if len(encrypted.Salt) != Argon2SaltLen {
		return nil, fmt.Errorf("identity: invalid salt length: got %d, want %d", len(encrypted.Salt), Argon2SaltLen)
	}
	if len(encrypted.Nonce) != AESNonceLen {
		return nil, fmt.Errorf("identity: invalid nonce length: got %d, want %d", len(encrypted.Nonce), AESNonceLen)
	}

	key := argon2.IDKey(
		[]byte(password),
		encrypted.Salt,
		encrypted.Argon2Time,
		encrypted.Argon2Memory,
		encrypted.Argon2Threads,
		Argon2KeyLen,
	)
	defer mbcrypto.ClearBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("identity: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("identity: create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, encrypted.Nonce, encrypted.Ciphertext, nil)
	if err != nil {
		return nil, errors.New("identity: authentication failed: wrong passphrase or corrupted data")
	}
	return plaintext, nil
}

// SerializeEncryptedSecret packs an EncryptedSecret into the binary layout
// persisted to disk: [version:1][time:4][memory:4][threads:1][salt:16][nonce:12][ciphertext:variable].
func SerializeEncryptedSecret(encrypted *EncryptedSecret) []byte {
	size := 1 + 4 + 4 + 1 + len(encrypted.Salt) + len(encrypted.Nonce) + len(encrypted.Ciphertext)
	result := make([]byte, size)

	offset := 0
	result[offset] = encrypted.Version
	offset++
	binary.BigEndian.PutUint32(result[offset:], encrypted.Argon2Time)
	offset += 4
	binary.BigEndian.PutUint32(result[offset:], encrypted.Argon2Memory)
	offset += 4
	result[offset] = encrypted.Argon2Threads
	offset++
	copy(result[offset:], encrypted.Salt)
	offset += len(encrypted.Salt)
	copy(result[offset:], encrypted.Nonce)
	offset += len(encrypted.Nonce)
	copy(result[offset:], encrypted.Ciphertext)

	return result
}

// DeserializeEncryptedSecret parses the layout written by SerializeEncryptedSecret.
func DeserializeEncryptedSecret(data []byte) (*EncryptedSecret, error) {
	minSize := 1 + 4 + 4 + 1 + Argon2SaltLen + AESNonceLen
	if len(data) < minSize {
		return nil, fmt.Errorf("identity: encrypted secret too short: %d bytes, want at least %d", len(data), minSize)
	}

	offset := 0
	version := data[offset]
	offset++
	argon2Time := binary.BigEndian.Uint32(data[offset:])
	offset += 4
	argon2Memory := binary.BigEndian.Uint32(data[offset:])
	offset += 4
	argon2Threads := data[offset]
	offset++

	salt := make([]byte, Argon2SaltLen)
	copy(salt, data[offset:offset+Argon2SaltLen])
	offset += Argon2SaltLen

	nonce := make([]byte, AESNonceLen)
	copy(nonce, data[offset:offset+AESNonceLen])
	offset += AESNonceLen

	ciphertext := make([]byte, len(data)-offset)
	copy(ciphertext, data[offset:])

	return &EncryptedSecret{
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
		Argon2Time:    argon2Time,
		Argon2Memory:  argon2Memory,
		Argon2Threads: argon2Threads,
		Version:       version,
	}, nil
}
