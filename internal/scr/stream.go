package scr

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

var errClosed = errors.New("scr: write to closed writer")

// Writer decrypts everything written to it before passing it on.
type Writer struct {
	w      io.Writer
	t      *transform
	buf    []byte
	closed bool
}

// NewWriter returns a decrypt-on-write transform over w. offset is the
// position in the ciphertext of the first byte that will be written.
func (r *Reference) NewWriter(w io.Writer, offset int64) (*Writer, error) {
	t, err := r.newTransform(offset)
	if err != nil {
		return nil, err
	}

	return &Writer{w: w, t: t}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errClosed
	}

	if cap(w.buf) < len(p) {
		w.buf = make([]byte, len(p))
	}

	plain := w.buf[:len(p)]
	w.t.apply(plain, p)

	return w.w.Write(plain)
}

// Close checks the tag, when one is checkable, and closes the underlying
// writer if it is an io.Closer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}

	w.closed = true

	verifyErr := w.t.verify()

	var closeErr error
	if c, ok := w.w.(io.Closer); ok {
		closeErr = c.Close()
	}

	return errors.Join(verifyErr, closeErr)
}

// Reader decrypts everything read through it.
type Reader struct {
	r        io.Reader
	t        *transform
	verified bool
}

// NewReader returns a decrypt-on-read transform over r. offset is the
// position in the ciphertext of the first byte r will yield.
func (r *Reference) NewReader(rd io.Reader, offset int64) (*Reader, error) {
	t, err := r.newTransform(offset)
	if err != nil {
		return nil, err
	}

	return &Reader{r: rd, t: t}, nil
}

func (rd *Reader) Read(p []byte) (int, error) {
	n, err := rd.r.Read(p)
	if n > 0 {
		rd.t.apply(p[:n], p[:n])
	}

	if errors.Is(err, io.EOF) && !rd.verified {
		rd.verified = true

		if verr := rd.t.verify(); verr != nil {
			return n, verr
		}
	}

	return n, err
}

// Close closes the underlying reader if it is an io.Closer.
func (rd *Reader) Close() error {
	if c, ok := rd.r.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

// Seal encrypts src into dst under a fresh key and returns the reference
// that decrypts it.
func Seal(dst io.Writer, src io.Reader, aad string) (*Reference, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	ref := &Reference{
		Enc: Algorithm,
		Key: encodeField(key),
		IV:  encodeField(iv),
		AAD: aad,
		key: key,
		iv:  iv,
	}

	block, macKey, err := ref.deriveKeys()
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, macKey)
	mac.Write([]byte(aad))

	sw := &cipher.StreamWriter{S: cipher.NewCTR(block, iv), W: io.MultiWriter(dst, mac)}
	if _, err := io.Copy(sw, src); err != nil {
		return nil, fmt.Errorf("failed to encrypt content: %w", err)
	}

	ref.tag = mac.Sum(nil)
	ref.Tag = encodeField(ref.tag)

	return ref, nil
}
