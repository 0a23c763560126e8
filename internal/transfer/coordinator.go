package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/italolelis/secure_downloader/internal/logctx"
	"github.com/italolelis/secure_downloader/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Options configures a Coordinator. Zero values select defaults.
type Options struct {
	// Client performs the transfer requests. It should not set a total
	// timeout, since bodies stream for as long as they take.
	Client *http.Client
	// Tokens yields bearer tokens. Without it every transfer fails with
	// KindAuthenticationUnavailable.
	Tokens TokenProvider
	// TargetDir is the directory used by requests that do not name one.
	// Defaults to DefaultTargetDir().
	TargetDir string
	// SizeHeader names the response header carrying the size descriptor.
	// Defaults to DefaultSizeHeader.
	SizeHeader string
	// Executor runs callbacks for requests that do not bring their own.
	// Defaults to a SerialExecutor owned by the coordinator.
	Executor  Executor
	Telemetry *telemetry.Telemetry
}

// Coordinator starts transfers and owns their sessions.
type Coordinator struct {
	client     *http.Client
	tokens     TokenProvider
	targetDir  string
	sizeHeader string
	executor   Executor
	telemetry  *telemetry.Telemetry
	now        func() time.Time

	ownExecutor *SerialExecutor

	mu     sync.Mutex
	active map[string]string
	wg     sync.WaitGroup
}

func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		client:     opts.Client,
		tokens:     opts.Tokens,
		targetDir:  opts.TargetDir,
		sizeHeader: opts.SizeHeader,
		executor:   opts.Executor,
		telemetry:  opts.Telemetry,
		now:        time.Now,
		active:     make(map[string]string),
	}

	if c.client == nil {
		c.client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	if c.targetDir == "" {
		c.targetDir = DefaultTargetDir()
	}

	if c.sizeHeader == "" {
		c.sizeHeader = DefaultSizeHeader
	}

	if c.executor == nil {
		c.ownExecutor = NewSerialExecutor()
		c.executor = c.ownExecutor
	}

	return c
}

// Start begins req and returns immediately. Every failure, including an
// invalid source, is reported through onComplete on the request's executor,
// never from within Start. ctx bounds the whole transfer: when it is done
// the transfer is cancelled as if by Handle.Cancel. onProgress may be nil.
func (c *Coordinator) Start(ctx context.Context, req Request, onProgress ProgressFunc, onComplete CompletionFunc) *Handle {
	ctx, cancel := context.WithCancel(ctx)

	h := newHandle(req.ID, cancel)

	exec := req.Executor
	if exec == nil {
		exec = c.executor
	}

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		defer cancel()

		res, cancelled := c.run(ctx, h, req, exec, onProgress)

		deliver := h.settle(res, cancelled)
		close(h.done)

		if !deliver || onComplete == nil {
			return
		}

		exec.Execute(func() {
			if h.deliver() {
				onComplete(res)
			}
		})
	}()

	return h
}

// Close waits for running transfers and stops the coordinator's own executor
// after it ran the queued callbacks. Cancel transfers first to stop quickly.
func (c *Coordinator) Close() {
	c.wg.Wait()

	if c.ownExecutor != nil {
		c.ownExecutor.Close()
	}
}

func (c *Coordinator) run(ctx context.Context, h *Handle, req Request, exec Executor, onProgress ProgressFunc) (Result, bool) {
	ctx = logctx.WithTransfer(ctx, req.ID, req.TrackingID)
	logger := logctx.LoggerFromContext(ctx)

	if err := validateSource(req.Source); err != nil {
		return Result{Err: newError(KindInvalidSource, "start", err)}, false
	}

	n := resolveNaming(req, c.targetDir, c.now())

	if err := c.reserve(req.ID, n); err != nil {
		return Result{Err: err}, false
	}

	defer c.release(req.ID, n)

	s := &session{
		c:      c,
		h:      h,
		req:    req,
		naming: n,
		emit: func(p Progress) {
			if onProgress == nil {
				return
			}

			exec.Execute(func() {
				if h.live() {
					onProgress(p)
				}
			})
		},
	}

	var path string

	err := c.telemetry.InstrumentTransfer(ctx, n.mode.String(), func(ctx context.Context) error {
		var err error

		path, err = s.run(ctx)

		return err
	})

	if err != nil && (ctx.Err() != nil || errors.Is(err, errStateChanged)) {
		logger.Debug("transfer cancelled", "state", h.State().String())

		return Result{}, true
	}

	if err != nil {
		logger.Error("transfer failed", "source", RedactSource(req.Source), "kind", KindOf(err).String(), "err", err)

		return Result{Err: err}, false
	}

	logger.Info("transfer completed", "path", path, "mode", n.mode.String())

	return Result{Path: path}, false
}

// reserve claims the working and final paths for one transfer.
func (c *Coordinator) reserve(id string, n naming) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	paths := []string{n.workingPath}
	if n.finalPath != n.workingPath {
		paths = append(paths, n.finalPath)
	}

	for _, p := range paths {
		if owner, ok := c.active[p]; ok {
			return newError(KindSinkCreationFailed, "reserve", fmt.Errorf("%w: %s (transfer %s)", ErrWorkingPathBusy, p, owner))
		}
	}

	for _, p := range paths {
		c.active[p] = id
	}

	return nil
}

func (c *Coordinator) release(id string, n naming) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range []string{n.workingPath, n.finalPath} {
		if c.active[p] == id {
			delete(c.active, p)
		}
	}
}

var errUnsupportedScheme = errors.New("source must be an absolute http or https URL")

func validateSource(source string) error {
	u, err := url.Parse(source)
	if err != nil {
		return err
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", errUnsupportedScheme, source)
	}

	return nil
}

// RedactSource drops credentials and query parameters, which often carry signatures.
func RedactSource(source string) string {
	u, err := url.Parse(source)
	if err != nil {
		return ""
	}

	u.User = nil
	u.RawQuery = ""

	return u.String()
}
