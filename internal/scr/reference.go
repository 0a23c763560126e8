// Package scr implements secure content references: JSON key descriptors that
// decrypt a stored resource, either as it is written (decrypt-on-write) or as
// it is read (decrypt-on-read).
package scr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Algorithm is the only content encryption scheme understood by this package:
// AES-256 in counter mode with an HMAC-SHA256 tag over aad || ciphertext.
const Algorithm = "A256CTR-HS256"

const (
	keySize = 32
	ivSize  = aes.BlockSize
	tagSize = sha256.Size
)

var hkdfInfo = []byte("scr/" + Algorithm)

var (
	ErrInvalidReference = errors.New("invalid secure content reference")
	ErrDecryptionFailed = errors.New("secure content decryption failed")
)

// Reference is a parsed secure content reference.
type Reference struct {
	Enc string `json:"enc"`
	Key string `json:"key"`
	IV  string `json:"iv"`
	AAD string `json:"aad,omitempty"`
	Tag string `json:"tag,omitempty"`
	Loc string `json:"loc,omitempty"`

	key []byte
	iv  []byte
	tag []byte
}

// ParseReference decodes and validates a JSON encoded reference.
func ParseReference(data string) (*Reference, error) {
	var ref Reference
	if err := json.Unmarshal([]byte(data), &ref); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReference, err)
	}

	if err := ref.decode(); err != nil {
		return nil, err
	}

	return &ref, nil
}

// Encode returns the JSON form of the reference.
func (r *Reference) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode reference: %w", err)
	}

	return string(b), nil
}

// Verifiable reports whether the reference carries an integrity tag.
func (r *Reference) Verifiable() bool {
	return len(r.tag) > 0
}

func (r *Reference) decode() error {
	if r.Enc != Algorithm {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidReference, r.Enc)
	}

	var err error

	if r.key, err = decodeField("key", r.Key, keySize); err != nil {
		return err
	}

	if r.iv, err = decodeField("iv", r.IV, ivSize); err != nil {
		return err
	}

	if r.Tag != "" {
		if r.tag, err = decodeField("tag", r.Tag, tagSize); err != nil {
			return err
		}
	}

	return nil
}

func decodeField(name, value string, size int) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(value, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidReference, name, err)
	}

	if len(b) != size {
		return nil, fmt.Errorf("%w: %s must be %d bytes, got %d", ErrInvalidReference, name, size, len(b))
	}

	return b, nil
}

func encodeField(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// deriveKeys expands the reference key into the AES block and the MAC key.
func (r *Reference) deriveKeys() (cipher.Block, []byte, error) {
	material := make([]byte, 2*keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, r.key, r.iv, hkdfInfo), material); err != nil {
		return nil, nil, fmt.Errorf("failed to derive keys: %w", err)
	}

	block, err := aes.NewCipher(material[:keySize])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return block, material[keySize:], nil
}

// transform is the keystream plus the optional running tag shared by Reader and Writer.
type transform struct {
	stream cipher.Stream
	mac    hash.Hash // nil when the tag cannot be checked
	tag    []byte
}

func (r *Reference) newTransform(offset int64) (*transform, error) {
	if offset < 0 {
		return nil, fmt.Errorf("negative stream offset %d", offset)
	}

	block, macKey, err := r.deriveKeys()
	if err != nil {
		return nil, err
	}

	stream := cipher.NewCTR(block, counterAt(r.iv, offset/aes.BlockSize))
	if skip := offset % aes.BlockSize; skip > 0 {
		discard := make([]byte, skip)
		stream.XORKeyStream(discard, discard)
	}

	t := &transform{stream: stream}

	// The tag covers the whole ciphertext, so it is only checkable from offset 0.
	if offset == 0 && r.Verifiable() {
		t.mac = hmac.New(sha256.New, macKey)
		t.mac.Write([]byte(r.AAD))
		t.tag = r.tag
	}

	return t, nil
}

// apply decrypts src into dst, feeding the ciphertext to the tag first.
func (t *transform) apply(dst, src []byte) {
	if t.mac != nil {
		t.mac.Write(src)
	}

	t.stream.XORKeyStream(dst, src)
}

func (t *transform) verify() error {
	if t.mac == nil {
		return nil
	}

	if !hmac.Equal(t.mac.Sum(nil), t.tag) {
		return fmt.Errorf("%w: tag mismatch", ErrDecryptionFailed)
	}

	return nil
}

// counterAt returns iv advanced by blocks, treating it as a big-endian counter.
func counterAt(iv []byte, blocks int64) []byte {
	ctr := make([]byte, len(iv))
	copy(ctr, iv)

	n := uint64(blocks)
	for i := len(ctr) - 1; i >= 0 && n > 0; i-- {
		n += uint64(ctr[i])
		ctr[i] = byte(n)
		n >>= 8
	}

	return ctr
}
