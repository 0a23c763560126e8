package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/secure_downloader/internal/downloader/progress"
	"github.com/italolelis/secure_downloader/internal/logctx"
	"github.com/italolelis/secure_downloader/internal/scr"
	"github.com/italolelis/secure_downloader/internal/sink"
)

const (
	dirPerm        = 0o755
	readBufferSize = 32 * 1024

	trackingHeader = "TrackingID"
)

var (
	errBodyTooLong  = errors.New("response body exceeds declared size")
	errBodyTooShort = errors.New("response body ended before declared size")
	errStateChanged = errors.New("transfer left the expected state")
)

// session owns one HTTP exchange and the working file it writes.
type session struct {
	c      *Coordinator
	h      *Handle
	req    Request
	naming naming
	emit   func(Progress)

	resumeOffset int64
	received     int64
	total        int64
	reported     bool
}

// run drives the session to an outcome. It returns the path of the final
// file on success.
func (s *session) run(ctx context.Context) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	token, err := s.acquireToken(ctx)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.naming.dir, dirPerm); err != nil {
		return "", newError(KindSinkCreationFailed, "create_dir", err)
	}

	s.resumeOffset = probeSize(s.naming.workingPath)

	if err := s.step(StateHeadersPending); err != nil {
		return "", err
	}

	resp, err := s.exchange(ctx, token)
	if err != nil {
		return "", err
	}

	defer resp.Body.Close()

	restart := false
	if s.resumeOffset > 0 && resp.StatusCode == http.StatusOK {
		logger.Info("server ignored range request, restarting from the beginning",
			"discarded", humanize.IBytes(uint64(s.resumeOffset)))

		s.resumeOffset = 0
		restart = true
	}

	remaining, err := s.sizeOf(resp)
	if err != nil {
		return "", newError(KindUnknownContentLength, "negotiate_size", err)
	}

	s.total = s.resumeOffset + remaining

	out, err := s.openSink(restart)
	if err != nil {
		return "", err
	}

	defer out.Close()

	logger.Debug("streaming transfer",
		"mode", s.naming.mode.String(),
		"resume_offset", s.resumeOffset,
		"total", humanize.IBytes(uint64(s.total)),
	)

	if err := s.step(StateStreaming); err != nil {
		return "", err
	}

	if err := s.stream(ctx, resp.Body, out); err != nil {
		return "", err
	}

	if err := s.step(StateFinishing); err != nil {
		return "", err
	}

	if err := out.Close(); err != nil {
		return "", s.closeFailed(ctx, err)
	}

	if s.naming.mode != ModePostHoc {
		return s.naming.finalPath, nil
	}

	if err := s.step(StatePostDecrypting); err != nil {
		return "", err
	}

	// Post-hoc decryption runs to completion even when the transfer is
	// cancelled meanwhile; the outcome is then simply not delivered.
	err = s.c.telemetry.InstrumentDecrypt(context.WithoutCancel(ctx), func(ctx context.Context) error {
		return DecryptFile(ctx, s.req.SecureContentRef, s.naming.workingPath, s.naming.finalPath)
	})
	if err != nil {
		return "", err
	}

	return s.naming.finalPath, nil
}

func (s *session) step(to State) error {
	if !s.h.advance(to) {
		return fmt.Errorf("%w: %s", errStateChanged, to)
	}

	return nil
}

func (s *session) acquireToken(ctx context.Context) (string, error) {
	if s.c.tokens == nil {
		return "", newError(KindAuthenticationUnavailable, "token", errNoToken)
	}

	token, err := s.c.tokens.Token(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		return "", newError(KindAuthenticationUnavailable, "token", err)
	}

	if token == "" {
		return "", newError(KindAuthenticationUnavailable, "token", errNoToken)
	}

	return token, nil
}

func (s *session) exchange(ctx context.Context, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.req.Source, nil)
	if err != nil {
		return nil, newError(KindInvalidSource, "request", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(trackingHeader, "ITCLIENT_"+s.req.TrackingID+"_0")
	req.Header.Set("Accept-Encoding", "identity")

	if s.resumeOffset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(s.resumeOffset, 10)+"-")
	}

	resp, err := s.c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, newError(KindTransport, "request", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()

		return nil, &Error{
			Kind:       KindTransport,
			Op:         "request",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %q", resp.Status),
		}
	}

	return resp, nil
}

func (s *session) sizeOf(resp *http.Response) (int64, error) {
	value := resp.Header.Get(s.c.sizeHeader)

	// net/http moves a plain Content-Length into the response and may
	// strip the header.
	if value == "" && http.CanonicalHeaderKey(s.c.sizeHeader) == "Content-Length" && resp.ContentLength >= 0 {
		return resp.ContentLength, nil
	}

	return parseSizeDescriptor(value)
}

// openSink opens the working file, wrapped by the decrypting filter in
// inline mode. The reference is parsed before the file is touched.
func (s *session) openSink(restart bool) (sink.Sink, error) {
	var ref *scr.Reference

	if s.naming.mode == ModeInline {
		var err error

		ref, err = scr.ParseReference(s.req.SecureContentRef)
		if err != nil {
			return nil, newError(KindInvalidContentReference, "open_sink", err)
		}
	}

	open := sink.OpenAppend
	if restart {
		open = sink.Create
	}

	file, err := open(s.naming.workingPath)
	if err != nil {
		return nil, newError(KindSinkCreationFailed, "open_sink", err)
	}

	if ref == nil {
		return file, nil
	}

	out, err := sink.Decrypting(file, ref, s.resumeOffset)
	if err != nil {
		file.Close()

		return nil, newError(KindSinkCreationFailed, "open_sink", err)
	}

	return out, nil
}

func (s *session) stream(ctx context.Context, body io.Reader, out io.Writer) error {
	pw := progress.NewWriter(out, s.resumeOffset, s.total, func(written, total int64) {
		s.report(written, total)
	})

	buf := make([]byte, readBufferSize)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			chunk := buf[:n]

			over := s.resumeOffset + s.received + int64(n) - s.total
			if over > 0 {
				chunk = chunk[:int64(n)-over]
			}

			if len(chunk) > 0 {
				written, werr := pw.Write(chunk)
				s.received += int64(written)
				s.c.telemetry.RecordTransferBytes(s.naming.mode.String(), int64(written))

				if werr != nil {
					return newError(KindSinkWriteFailed, "write", werr)
				}
			}

			if over > 0 {
				return newError(KindTransport, "read", errBodyTooLong)
			}
		}

		if rerr == nil {
			continue
		}

		if errors.Is(rerr, io.EOF) {
			break
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		return newError(KindTransport, "read", rerr)
	}

	if s.resumeOffset+s.received < s.total {
		return newError(KindTransport, "read", fmt.Errorf("%w: got %d of %d bytes",
			errBodyTooShort, s.resumeOffset+s.received, s.total))
	}

	if !s.reported {
		s.report(s.total, s.total)
	}

	return nil
}

func (s *session) report(written, total int64) {
	s.reported = true

	s.emit(Progress{
		Written:  written,
		Total:    total,
		Fraction: progress.Fraction(written, total),
	})
}

// closeFailed classifies a failure to close the working sink. A tag
// mismatch in inline mode leaves a corrupt file, which is removed.
func (s *session) closeFailed(ctx context.Context, err error) error {
	if s.naming.mode == ModeInline && errors.Is(err, scr.ErrDecryptionFailed) {
		if rmErr := os.Remove(s.naming.workingPath); rmErr != nil && !os.IsNotExist(rmErr) {
			logctx.LoggerFromContext(ctx).Warn("failed to remove corrupt working file", "path", s.naming.workingPath, "err", rmErr)
		}

		return newError(KindDecryptionFailed, "close_sink", err)
	}

	return newError(KindSinkWriteFailed, "close_sink", err)
}

// probeSize returns the size of the file at path, or 0 when there is none.
func probeSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0
	}

	return info.Size()
}
