package transfer

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/italolelis/secure_downloader/internal/logctx"
	"github.com/italolelis/secure_downloader/internal/scr"
	"github.com/italolelis/secure_downloader/internal/sink"
)

const decryptChunkSize = 1024

var errMissingReference = errors.New("no secure content reference supplied")

// DecryptFile decrypts the completed ciphertext at workingPath into
// finalPath using the JSON encoded reference. workingPath is removed on
// every exit path; finalPath is removed again when decryption fails. ctx is
// only used for logging: the pass is not cancellable.
func DecryptFile(ctx context.Context, secureContentRef, workingPath, finalPath string) (err error) {
	logger := logctx.LoggerFromContext(ctx)

	defer func() {
		if rmErr := os.Remove(workingPath); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("failed to remove encrypted working file", "path", workingPath, "err", rmErr)
		}
	}()

	if secureContentRef == "" {
		return newError(KindMissingContentReference, "decrypt", errMissingReference)
	}

	ref, err := scr.ParseReference(secureContentRef)
	if err != nil {
		return newError(KindInvalidContentReference, "decrypt", err)
	}

	src, err := os.Open(workingPath)
	if err != nil {
		return newError(KindDecryptionFailed, "decrypt", err)
	}

	defer src.Close()

	file, err := sink.Create(finalPath)
	if err != nil {
		return newError(KindSinkCreationFailed, "decrypt", err)
	}

	defer func() {
		if err == nil {
			return
		}

		if rmErr := os.Remove(finalPath); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("failed to remove partial decrypted file", "path", finalPath, "err", rmErr)
		}
	}()

	out, err := sink.Decrypting(file, ref, 0)
	if err != nil {
		file.Close()

		return newError(KindSinkCreationFailed, "decrypt", err)
	}

	defer out.Close()

	buf := make([]byte, decryptChunkSize)

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return newError(KindDecryptionFailed, "decrypt", werr)
			}
		}

		if errors.Is(rerr, io.EOF) {
			break
		}

		if rerr != nil {
			return newError(KindDecryptionFailed, "decrypt", rerr)
		}
	}

	if err := out.Close(); err != nil {
		return newError(KindDecryptionFailed, "decrypt", err)
	}

	logger.Debug("decrypted transfer", "path", finalPath)

	return nil
}
