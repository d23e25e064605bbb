// Package cryptox implements the at-rest protection used by the archive:
// self-contained AES-256-GCM envelopes keyed by scrypt from a master
// secret, checksummed file encryption, and argon2id password hashing.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
	"golang.org/x/crypto/scrypt"
)

// Envelope byte layout: salt || iv || authTag || ciphertext.
const (
	SaltSize = 32
	IVSize   = 16
	TagSize  = 16
	KeySize  = 32

	// HeaderSize is the fixed prefix preceding the ciphertext.
	HeaderSize = SaltSize + IVSize + TagSize
)

// Default scrypt cost. Matches the parameters envelopes were written with
// historically; changing them makes older envelopes undecryptable.
const (
	DefaultScryptN = 1 << 14
	DefaultScryptR = 8
	DefaultScryptP = 1
)

// ScryptParams are the cost parameters for deriving an envelope key.
type ScryptParams struct {
	N int
	R int
	P int
}

// DefaultScryptParams returns the production scrypt cost.
func DefaultScryptParams() ScryptParams {
	return ScryptParams{N: DefaultScryptN, R: DefaultScryptR, P: DefaultScryptP}
}

// Sealed is the output of Encrypt.
type Sealed struct {
	// Envelope is the self-contained encrypted blob.
	Envelope []byte
	// KeyID is an opaque label stored alongside the envelope. Decryption
	// never needs it.
	KeyID string
}

// EncryptedFile is the output of EncryptFile.
type EncryptedFile struct {
	Content  []byte
	Checksum string
	KeyID    string
}

// Sealer encrypts and decrypts envelopes under one master secret. It holds
// no mutable state and is safe for concurrent use.
type Sealer struct {
	masterKey []byte
	params    ScryptParams
}

// NewSealer returns a Sealer for masterKey using the default scrypt cost.
func NewSealer(masterKey []byte) (*Sealer, error) {
	return NewSealerWithParams(masterKey, DefaultScryptParams())
}

// NewSealerWithParams is NewSealer with explicit scrypt parameters. The
// master key is copied, so the caller may wipe its slice afterwards.
//
// Parameters:
//   - masterKey: the secret every envelope key is derived from. Must be
//     non-empty.
//   - params: scrypt cost used for every derivation. Envelopes only open
//     under the params they were sealed with.
//
// Returns:
//   - *Sealer: ready for concurrent use.
//   - error: when masterKey is empty.
func NewSealerWithParams(masterKey []byte, params ScryptParams) (*Sealer, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("cryptox: master key is empty")
	}
	key := make([]byte, len(masterKey))
	copy(key, masterKey)
	return &Sealer{masterKey: key, params: params}, nil
}

func (s *Sealer) deriveKey(salt []byte) ([]byte, error) {
	return scrypt.Key(s.masterKey, salt, s.params.N, s.params.R, s.params.P, KeySize)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, IVSize)
}

// Encrypt seals plaintext into a fresh envelope. A new salt (and therefore
// a new key) and IV are drawn for every call, so equal plaintexts never
// produce linkable envelopes.
//
// Parameters:
//   - plaintext: the bytes to protect; may be empty.
//
// Returns:
//   - *Sealed: the envelope laid out as salt || iv || authTag || ciphertext
//     and a random key label.
//   - error: when key derivation or cipher setup fails.
func (s *Sealer) Encrypt(plaintext []byte) (*Sealed, error) {
	salt := common.GenerateRandByteArray(SaltSize)
	iv := common.GenerateRandByteArray(IVSize)

	key, err := s.deriveKey(salt)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer common.WipeByteArray(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	// Seal appends the tag after the ciphertext; the envelope stores it first.
	sealed := aead.Seal(nil, iv, plaintext, nil)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	envelope := make([]byte, 0, HeaderSize+len(ct))
	envelope = append(envelope, salt...)
	envelope = append(envelope, iv...)
	envelope = append(envelope, tag...)
	envelope = append(envelope, ct...)

	keyID, err := common.MakeRandHexString(16)
	if err != nil {
		return nil, err
	}

	return &Sealed{Envelope: envelope, KeyID: keyID}, nil
}

// Decrypt opens an envelope produced by Encrypt.
//
// Parameters:
//   - envelope: salt || iv || authTag || ciphertext as written by Encrypt.
//
// Returns:
//   - []byte: the plaintext.
//   - error: common.ErrIntegrity for a short, truncated or modified
//     envelope, or one sealed under another master key.
func (s *Sealer) Decrypt(envelope []byte) ([]byte, error) {
	if len(envelope) < HeaderSize {
		return nil, fmt.Errorf("%w: envelope too short", common.ErrIntegrity)
	}

	salt := envelope[:SaltSize]
	iv := envelope[SaltSize : SaltSize+IVSize]
	tag := envelope[SaltSize+IVSize : HeaderSize]
	ct := envelope[HeaderSize:]

	key, err := s.deriveKey(salt)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer common.WipeByteArray(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ct)+TagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", common.ErrIntegrity)
	}
	return plaintext, nil
}

// EncryptFile checksums plaintext and seals it.
//
// Parameters:
//   - plaintext: the file contents.
//
// Returns:
//   - *EncryptedFile: the envelope, the hex SHA-256 of plaintext and the
//     key label. The checksum is stored next to the file and handed back
//     to DecryptFile.
//   - error: as for Encrypt.
func (s *Sealer) EncryptFile(plaintext []byte) (*EncryptedFile, error) {
	checksum := Checksum(plaintext)
	sealed, err := s.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return &EncryptedFile{Content: sealed.Envelope, Checksum: checksum, KeyID: sealed.KeyID}, nil
}

// DecryptFile opens content and verifies the plaintext against
// expectedChecksum.
//
// Parameters:
//   - content: an envelope produced by EncryptFile.
//   - expectedChecksum: the checksum EncryptFile returned for it.
//
// Returns:
//   - []byte: the verified plaintext.
//   - error: common.ErrIntegrity when the envelope does not open or the
//     checksum does not match.
func (s *Sealer) DecryptFile(content []byte, expectedChecksum string) ([]byte, error) {
	plaintext, err := s.Decrypt(content)
	if err != nil {
		return nil, err
	}
	actual := Checksum(plaintext)
	if subtle.ConstantTimeCompare([]byte(actual), []byte(expectedChecksum)) != 1 {
		return nil, fmt.Errorf("%w: checksum mismatch", common.ErrIntegrity)
	}
	return plaintext, nil
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
