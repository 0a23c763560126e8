package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/secure_downloader/internal/scr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSizeHeader = "X-Content-Size"
	testToken      = "secret-token"
	waitTimeout    = 5 * time.Second
)

type requestLog struct {
	mu      sync.Mutex
	headers []http.Header
}

func (l *requestLog) add(r *http.Request) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.headers = append(l.headers, r.Header.Clone())
}

func (l *requestLog) all() []http.Header {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]http.Header(nil), l.headers...)
}

// serveContent serves content honouring "bytes=N-" ranges. The size
// descriptor is composite: "<first>-<last>/<remaining>".
func serveContent(content []byte, chunk int, log *requestLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.add(r)

		var offset int64

		status := http.StatusOK

		if rng := r.Header.Get("Range"); rng != "" {
			v := strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-")
			offset, _ = strconv.ParseInt(v, 10, 64)
			status = http.StatusPartialContent
		}

		body := content[offset:]
		w.Header().Set(testSizeHeader, fmt.Sprintf("%d-%d/%d", offset, len(content)-1, len(body)))
		w.WriteHeader(status)
		writeChunks(w, body, chunk)
	}
}

func writeChunks(w http.ResponseWriter, body []byte, chunk int) {
	flusher, _ := w.(http.Flusher)

	for len(body) > 0 {
		n := min(chunk, len(body))
		_, _ = w.Write(body[:n])
		body = body[n:]

		if flusher != nil {
			flusher.Flush()
		}
	}
}

type recorder struct {
	mu       sync.Mutex
	events   []string
	progress []Progress
	results  []Result
	done     chan Result
}

func newRecorder() *recorder {
	return &recorder{done: make(chan Result, 4)}
}

func (r *recorder) onProgress(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, "progress")
	r.progress = append(r.progress, p)
}

func (r *recorder) onComplete(res Result) {
	r.mu.Lock()
	r.events = append(r.events, "complete")
	r.results = append(r.results, res)
	r.mu.Unlock()

	r.done <- res
}

func (r *recorder) wait(t *testing.T) Result {
	t.Helper()

	select {
	case res := <-r.done:
		return res
	case <-time.After(waitTimeout):
		require.FailNow(t, "transfer did not complete")

		return Result{}
	}
}

func (r *recorder) completions() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.results)
}

func (r *recorder) fractions() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]float64, 0, len(r.progress))
	for _, p := range r.progress {
		out = append(out, p.Fraction)
	}

	return out
}

func newTestCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()

	if opts.Tokens == nil {
		opts.Tokens = StaticToken(testToken)
	}

	if opts.TargetDir == "" {
		opts.TargetDir = t.TempDir()
	}

	if opts.SizeHeader == "" {
		opts.SizeHeader = testSizeHeader
	}

	c := NewCoordinator(opts)
	t.Cleanup(c.Close)

	return c
}

func randomContent(t *testing.T, n int) []byte {
	t.Helper()

	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)

	return b
}

func seal(t *testing.T, plaintext []byte) ([]byte, string) {
	t.Helper()

	var buf bytes.Buffer

	ref, err := scr.Seal(&buf, bytes.NewReader(plaintext), "attachment")
	require.NoError(t, err)

	encoded, err := ref.Encode()
	require.NoError(t, err)

	return buf.Bytes(), encoded
}

func requestFor(srv *httptest.Server, id, displayName string) Request {
	req := NewRequest(srv.URL + "/files/1?sig=abc")
	req.ID = id
	req.DisplayName = displayName

	return req
}

func TestCoordinator_PlainTransfer(t *testing.T) {
	content := randomContent(t, 100_000)
	log := &requestLog{}

	srv := httptest.NewServer(serveContent(content, 7_000, log))
	defer srv.Close()

	c := newTestCoordinator(t, Options{})
	rec := newRecorder()

	req := requestFor(srv, "plain", "data.bin")
	h := c.Start(context.Background(), req, rec.onProgress, rec.onComplete)
	assert.Equal(t, "plain", h.ID())

	res := rec.wait(t)
	require.NoError(t, res.Err)
	assert.Equal(t, filepath.Join(c.targetDir, "plain-data.bin"), res.Path)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	<-h.Done()
	assert.Equal(t, StateDone, h.State())
	assert.Equal(t, res, h.Result())

	headers := log.all()
	require.Len(t, headers, 1)
	assert.Equal(t, "Bearer "+testToken, headers[0].Get("Authorization"))
	assert.Equal(t, "ITCLIENT_"+req.TrackingID+"_0", headers[0].Get("TrackingID"))
	assert.Equal(t, "identity", headers[0].Get("Accept-Encoding"))
	assert.Empty(t, headers[0].Get("Range"))
}

func TestCoordinator_ProgressIsMonotonicAndCompletesLast(t *testing.T) {
	content := randomContent(t, 50_000)

	srv := httptest.NewServer(serveContent(content, 1_000, &requestLog{}))
	defer srv.Close()

	c := newTestCoordinator(t, Options{})
	rec := newRecorder()

	c.Start(context.Background(), requestFor(srv, "progress", "p.bin"), rec.onProgress, rec.onComplete)
	require.NoError(t, rec.wait(t).Err)
	c.Close()

	fractions := rec.fractions()
	require.NotEmpty(t, fractions)

	for i := 1; i < len(fractions); i++ {
		assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
	}

	assert.InDelta(t, 1.0, fractions[len(fractions)-1], 0)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	assert.Equal(t, "complete", rec.events[len(rec.events)-1])
	assert.Len(t, rec.results, 1)
	assert.Equal(t, int64(len(content)), rec.progress[len(rec.progress)-1].Written)
}

func TestCoordinator_ResumesAfterShortBody(t *testing.T) {
	content := randomContent(t, 40_000)
	const persisted = 12_345

	log := &requestLog{}

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			log.add(r)
			w.Header().Set(testSizeHeader, strconv.Itoa(len(content)))
			w.WriteHeader(http.StatusOK)
			writeChunks(w, content[:persisted], 4_000)

			return
		}

		serveContent(content, 4_000, log)(w, r)
	}))
	defer srv.Close()

	c := newTestCoordinator(t, Options{})
	req := requestFor(srv, "resume", "r.bin")

	first := newRecorder()
	c.Start(context.Background(), req, first.onProgress, first.onComplete)

	res := first.wait(t)
	require.ErrorIs(t, res.Err, ErrTransport)

	working := filepath.Join(c.targetDir, "resume-r.bin")
	info, err := os.Stat(working)
	require.NoError(t, err, "partial file is kept for resume")
	assert.Equal(t, int64(persisted), info.Size())

	second := newRecorder()
	c.Start(context.Background(), req, second.onProgress, second.onComplete)

	res = second.wait(t)
	require.NoError(t, res.Err)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	headers := log.all()
	require.Len(t, headers, 2)
	assert.Equal(t, "bytes=12345-", headers[1].Get("Range"))

	fractions := second.fractions()
	require.NotEmpty(t, fractions)
	assert.Greater(t, fractions[0], float64(persisted)/float64(len(content)))
	assert.InDelta(t, 1.0, fractions[len(fractions)-1], 0)
}

func TestCoordinator_RestartsWhenRangeIgnored(t *testing.T) {
	content := randomContent(t, 10_000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(testSizeHeader, strconv.Itoa(len(content)))
		w.WriteHeader(http.StatusOK)
		writeChunks(w, content, 3_000)
	}))
	defer srv.Close()

	c := newTestCoordinator(t, Options{})
	require.NoError(t, os.WriteFile(filepath.Join(c.targetDir, "restart-x.bin"), []byte("stale bytes"), 0o644))

	rec := newRecorder()
	c.Start(context.Background(), requestFor(srv, "restart", "x.bin"), rec.onProgress, rec.onComplete)

	res := rec.wait(t)
	require.NoError(t, res.Err)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestCoordinator_InlineDecryption(t *testing.T) {
	plaintext := randomContent(t, 30_000)
	ciphertext, ref := seal(t, plaintext)

	srv := httptest.NewServer(serveContent(ciphertext, 2_048, &requestLog{}))
	defer srv.Close()

	c := newTestCoordinator(t, Options{})
	rec := newRecorder()

	req := requestFor(srv, "inline", "photo.jpg")
	req.SecureContentRef = ref

	c.Start(context.Background(), req, rec.onProgress, rec.onComplete)

	res := rec.wait(t)
	require.NoError(t, res.Err)
	assert.Equal(t, filepath.Join(c.targetDir, "inline-photo.jpg"), res.Path)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestCoordinator_InlineDecryptionResumes(t *testing.T) {
	plaintext := randomContent(t, 30_000)
	ciphertext, ref := seal(t, plaintext)

	log := &requestLog{}

	srv := httptest.NewServer(serveContent(ciphertext, 2_048, log))
	defer srv.Close()

	c := newTestCoordinator(t, Options{})

	// A previous inline run stored the decrypted prefix.
	require.NoError(t, os.WriteFile(filepath.Join(c.targetDir, "inline-photo.jpg"), plaintext[:10_001], 0o644))

	rec := newRecorder()

	req := requestFor(srv, "inline", "photo.jpg")
	req.SecureContentRef = ref

	c.Start(context.Background(), req, rec.onProgress, rec.onComplete)

	res := rec.wait(t)
	require.NoError(t, res.Err)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
	assert.Equal(t, "bytes=10001-", log.all()[0].Get("Range"))
}

func TestCoordinator_InlineDecryptionFailureRemovesFile(t *testing.T) {
	plaintext := randomContent(t, 8_000)
	ciphertext, ref := seal(t, plaintext)
	ciphertext[100] ^= 0xFF

	srv := httptest.NewServer(serveContent(ciphertext, 1_024, &requestLog{}))
	defer srv.Close()

	c := newTestCoordinator(t, Options{})
	rec := newRecorder()

	req := requestFor(srv, "corrupt", "c.bin")
	req.SecureContentRef = ref

	c.Start(context.Background(), req, rec.onProgress, rec.onComplete)

	res := rec.wait(t)
	require.ErrorIs(t, res.Err, ErrDecryptionFailed)
	assert.NoFileExists(t, filepath.Join(c.targetDir, "corrupt-c.bin"))
}

func TestCoordinator_InvalidInlineReference(t *testing.T) {
	log := &requestLog{}

	srv := httptest.NewServer(serveContent([]byte("ciphertext"), 4, log))
	defer srv.Close()

	c := newTestCoordinator(t, Options{})
	rec := newRecorder()

	req := requestFor(srv, "badref", "b.bin")
	req.SecureContentRef = `{"enc":"A256CTR-HS256","key":"short"}`

	c.Start(context.Background(), req, rec.onProgress, rec.onComplete)

	res := rec.wait(t)
	require.ErrorIs(t, res.Err, ErrInvalidContentReference)
	assert.NoFileExists(t, filepath.Join(c.targetDir, "badref-b.bin"))
	assert.Empty(t, rec.fractions())
}

func TestCoordinator_PostHocDecryption(t *testing.T) {
	plaintext := randomContent(t, 20_000)
	ciphertext, ref := seal(t, plaintext)

	srv := httptest.NewServer(serveContent(ciphertext, 3_000, &requestLog{}))
	defer srv.Close()

	c := newTestCoordinator(t, Options{})
	rec := newRecorder()

	req := NewRequest(srv.URL + "/files/2")
	req.FileName = "report.pdf"
	req.SecureContentRef = ref

	c.Start(context.Background(), req, rec.onProgress, rec.onComplete)

	res := rec.wait(t)
	require.NoError(t, res.Err)
	assert.Equal(t, filepath.Join(c.targetDir, "report.pdf"), res.Path)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	assert.NoFileExists(t, filepath.Join(c.targetDir, "encrypted-report.pdf"))

	entries, err := os.ReadDir(c.targetDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCoordinator_PostHocDecryptionFailureCleansUp(t *testing.T) {
	plaintext := randomContent(t, 5_000)
	ciphertext, ref := seal(t, plaintext)
	ciphertext[len(ciphertext)-1] ^= 0x01

	srv := httptest.NewServer(serveContent(ciphertext, 1_000, &requestLog{}))
	defer srv.Close()

	c := newTestCoordinator(t, Options{})
	rec := newRecorder()

	req := NewRequest(srv.URL)
	req.FileName = "broken.bin"
	req.SecureContentRef = ref

	c.Start(context.Background(), req, rec.onProgress, rec.onComplete)

	res := rec.wait(t)
	require.ErrorIs(t, res.Err, ErrDecryptionFailed)
	assert.NoFileExists(t, filepath.Join(c.targetDir, "encrypted-broken.bin"))
	assert.NoFileExists(t, filepath.Join(c.targetDir, "broken.bin"))
}

func TestCoordinator_PostHocWithoutReference(t *testing.T) {
	srv := httptest.NewServer(serveContent([]byte("still encrypted"), 4, &requestLog{}))
	defer srv.Close()

	c := newTestCoordinator(t, Options{})
	rec := newRecorder()

	req := NewRequest(srv.URL)
	req.FileName = "secret.txt"

	c.Start(context.Background(), req, rec.onProgress, rec.onComplete)

	res := rec.wait(t)
	require.ErrorIs(t, res.Err, ErrMissingContentReference)
	assert.NoFileExists(t, filepath.Join(c.targetDir, "encrypted-secret.txt"))
	assert.NoFileExists(t, filepath.Join(c.targetDir, "secret.txt"))
}

func TestCoordinator_CancelBeforeAnyCallback(t *testing.T) {
	log := &requestLog{}

	srv := httptest.NewServer(serveContent([]byte("payload"), 2, log))
	defer srv.Close()

	release := make(chan struct{})
	tokens := TokenProviderFunc(func(ctx context.Context) (string, error) {
		select {
		case <-release:
			return testToken, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	c := newTestCoordinator(t, Options{Tokens: tokens})
	rec := newRecorder()

	h := c.Start(context.Background(), requestFor(srv, "cancel", "c.bin"), rec.onProgress, rec.onComplete)
	h.Cancel()
	close(release)

	select {
	case <-h.Done():
	case <-time.After(waitTimeout):
		require.FailNow(t, "transfer did not stop")
	}

	c.Close()

	assert.Equal(t, StateCancelled, h.State())
	assert.Zero(t, rec.completions())
	assert.Empty(t, rec.fractions())
	assert.Empty(t, log.all())
}

func TestCoordinator_CancelDuringStreaming(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(testSizeHeader, "1000")
		w.WriteHeader(http.StatusOK)
		writeChunks(w, make([]byte, 100), 100)
		close(started)

		select {
		case <-unblock:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(unblock)

	c := newTestCoordinator(t, Options{})
	rec := newRecorder()

	h := c.Start(context.Background(), requestFor(srv, "midway", "m.bin"), rec.onProgress, rec.onComplete)

	<-started
	h.Cancel()

	select {
	case <-h.Done():
	case <-time.After(waitTimeout):
		require.FailNow(t, "transfer did not stop")
	}

	c.Close()

	assert.Equal(t, StateCancelled, h.State())
	assert.Zero(t, rec.completions())
}

func TestCoordinator_CancelAfterCompletionIsNoop(t *testing.T) {
	srv := httptest.NewServer(serveContent([]byte("hello"), 5, &requestLog{}))
	defer srv.Close()

	c := newTestCoordinator(t, Options{})
	rec := newRecorder()

	h := c.Start(context.Background(), requestFor(srv, "late", "l.txt"), rec.onProgress, rec.onComplete)

	res := rec.wait(t)
	require.NoError(t, res.Err)

	h.Cancel()
	h.Cancel()
	c.Close()

	assert.Equal(t, 1, rec.completions())
	assert.Equal(t, StateDone, h.State())
	assert.FileExists(t, res.Path)
}

func TestCoordinator_ParentContextCancels(t *testing.T) {
	srv := httptest.NewServer(serveContent([]byte("hello"), 5, &requestLog{}))
	defer srv.Close()

	c := newTestCoordinator(t, Options{})
	rec := newRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := c.Start(ctx, requestFor(srv, "parent", "p.txt"), rec.onProgress, rec.onComplete)
	<-h.Done()
	c.Close()

	assert.Equal(t, StateCancelled, h.State())
	assert.Zero(t, rec.completions())
}

func TestCoordinator_MissingSizeHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		writeChunks(w, []byte("unsized content"), 3)
	}))
	defer srv.Close()

	c := newTestCoordinator(t, Options{})
	rec := newRecorder()

	c.Start(context.Background(), requestFor(srv, "unsized", "u.bin"), rec.onProgress, rec.onComplete)

	res := rec.wait(t)
	require.ErrorIs(t, res.Err, ErrUnknownContentLength)
	assert.Empty(t, res.Path)
	assert.NoFileExists(t, filepath.Join(c.targetDir, "unsized-u.bin"))
}

func TestCoordinator_DefaultSizeHeader(t *testing.T) {
	content := []byte("sized by Content-Length")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		_, _ = w.Write(content)
	}))
	defer srv.Close()

	c := newTestCoordinator(t, Options{SizeHeader: DefaultSizeHeader})
	rec := newRecorder()

	c.Start(context.Background(), requestFor(srv, "cl", "cl.txt"), rec.onProgress, rec.onComplete)

	res := rec.wait(t)
	require.NoError(t, res.Err)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestCoordinator_BodyLongerThanDeclared(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(testSizeHeader, "10")
		w.WriteHeader(http.StatusOK)
		writeChunks(w, []byte("0123456789abcdefghij"), 20)
	}))
	defer srv.Close()

	c := newTestCoordinator(t, Options{})
	rec := newRecorder()

	c.Start(context.Background(), requestFor(srv, "long", "l.bin"), rec.onProgress, rec.onComplete)

	res := rec.wait(t)
	require.ErrorIs(t, res.Err, ErrTransport)

	got, err := os.ReadFile(filepath.Join(c.targetDir, "long-l.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), got)
}

func TestCoordinator_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestCoordinator(t, Options{})
	rec := newRecorder()

	c.Start(context.Background(), requestFor(srv, "missing", "m.bin"), rec.onProgress, rec.onComplete)

	res := rec.wait(t)
	require.ErrorIs(t, res.Err, ErrTransport)

	var terr *Error
	require.ErrorAs(t, res.Err, &terr)
	assert.Equal(t, http.StatusNotFound, terr.StatusCode)
	assert.NoFileExists(t, filepath.Join(c.targetDir, "missing-m.bin"))
}

func TestCoordinator_EmptyResource(t *testing.T) {
	srv := httptest.NewServer(serveContent(nil, 1, &requestLog{}))
	defer srv.Close()

	c := newTestCoordinator(t, Options{})
	rec := newRecorder()

	c.Start(context.Background(), requestFor(srv, "empty", "e.bin"), rec.onProgress, rec.onComplete)

	res := rec.wait(t)
	require.NoError(t, res.Err)
	assert.Equal(t, []float64{1}, rec.fractions())

	info, err := os.Stat(res.Path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestCoordinator_AuthenticationUnavailable(t *testing.T) {
	log := &requestLog{}

	srv := httptest.NewServer(serveContent([]byte("x"), 1, log))
	defer srv.Close()

	c := newTestCoordinator(t, Options{Tokens: StaticToken("")})
	rec := newRecorder()

	c.Start(context.Background(), requestFor(srv, "noauth", "n.bin"), rec.onProgress, rec.onComplete)

	res := rec.wait(t)
	require.ErrorIs(t, res.Err, ErrAuthenticationUnavailable)
	assert.Empty(t, log.all(), "no request is sent without a token")
}

func TestCoordinator_InvalidSource(t *testing.T) {
	sources := []string{"::not a url", "ftp://example.com/file", "/relative/path", ""}

	for _, source := range sources {
		t.Run(source, func(t *testing.T) {
			c := newTestCoordinator(t, Options{})
			rec := newRecorder()

			req := NewRequest(source)
			h := c.Start(context.Background(), req, rec.onProgress, rec.onComplete)

			res := rec.wait(t)
			require.ErrorIs(t, res.Err, ErrInvalidSource)
			assert.Equal(t, StateDone, h.State())
		})
	}
}

func TestCoordinator_RejectsBusyWorkingPath(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})

	var once sync.Once

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		<-unblock
		w.Header().Set(testSizeHeader, "2")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := newTestCoordinator(t, Options{})
	req := requestFor(srv, "busy", "b.bin")

	first := newRecorder()
	c.Start(context.Background(), req, first.onProgress, first.onComplete)
	<-started

	second := newRecorder()
	c.Start(context.Background(), req, second.onProgress, second.onComplete)

	res := second.wait(t)
	require.ErrorIs(t, res.Err, ErrSinkCreationFailed)
	require.ErrorIs(t, res.Err, ErrWorkingPathBusy)

	close(unblock)
	require.NoError(t, first.wait(t).Err)
}

func TestCoordinator_RequestExecutor(t *testing.T) {
	srv := httptest.NewServer(serveContent([]byte("abc"), 1, &requestLog{}))
	defer srv.Close()

	exec := NewSerialExecutor()
	defer exec.Close()

	var submitted int

	var mu sync.Mutex

	c := newTestCoordinator(t, Options{})
	rec := newRecorder()

	req := requestFor(srv, "exec", "e.txt")
	req.Executor = ExecutorFunc(func(task func()) {
		mu.Lock()
		submitted++
		mu.Unlock()

		exec.Execute(task)
	})

	c.Start(context.Background(), req, rec.onProgress, rec.onComplete)
	require.NoError(t, rec.wait(t).Err)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, len(rec.fractions())+1, submitted)
}

func TestRedactSource(t *testing.T) {
	assert.Equal(t, "https://example.com/a/b", RedactSource("https://user:pw@example.com/a/b?sig=secret"))
}
