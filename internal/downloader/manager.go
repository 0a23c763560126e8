package downloader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/italolelis/secure_downloader/internal/logctx"
	"github.com/italolelis/secure_downloader/internal/notifier"
	"github.com/italolelis/secure_downloader/internal/storage"
	"github.com/italolelis/secure_downloader/internal/transfer"
	"golang.org/x/sync/semaphore"
)

var (
	ErrNotFound = errors.New("transfer not found")
	ErrActive   = errors.New("transfer is already active")
	ErrClaimed  = errors.New("transfer is claimed by another instance")
	ErrClosed   = errors.New("manager is closed")
)

// Status is a snapshot of one transfer.
type Status struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	TrackingID string    `json:"tracking_id"`
	State      string    `json:"state"`
	Progress   float64   `json:"progress"`
	Written    int64     `json:"bytes_written"`
	Total      int64     `json:"bytes_total"`
	Path       string    `json:"path,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s Status) finished() bool {
	switch s.State {
	case storage.StatusCompleted, storage.StatusFailed, storage.StatusCancelled:
		return true
	default:
		return false
	}
}

type entry struct {
	req             transfer.Request
	handle          *transfer.Handle
	status          Status
	cancelRequested bool
}

// Manager runs many transfers through one coordinator, journals them and
// announces their outcome.
type Manager struct {
	coord      *transfer.Coordinator
	repo       storage.TransferRepository
	notifier   notifier.Notifier
	instanceID string
	sem        *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	wg       sync.WaitGroup
	notifyWG sync.WaitGroup
}

// NewManager returns a manager running at most maxParallel transfers at once.
// The manager owns coord and closes it in Close. Values of ctx, such as the
// logger, are inherited by every transfer; its cancellation is not.
func NewManager(ctx context.Context, coord *transfer.Coordinator, repo storage.TransferRepository, notif notifier.Notifier, maxParallel int) *Manager {
	if notif == nil {
		notif = notifier.Nop{}
	}

	if maxParallel < 1 {
		maxParallel = 1
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	m := &Manager{
		coord:      coord,
		repo:       repo,
		notifier:   notif,
		instanceID: GenerateInstanceID(),
		sem:        semaphore.NewWeighted(int64(maxParallel)),
		ctx:        ctx,
		cancel:     cancel,
		entries:    make(map[string]*entry),
	}

	m.releaseStaleClaims()

	return m
}

// releaseStaleClaims fails transfers a previous process left downloading, so
// resubmitting them resumes their working files instead of hitting ErrClaimed.
func (m *Manager) releaseStaleClaims() {
	logger := logctx.LoggerFromContext(m.ctx)

	released, err := m.repo.ReleaseStaleClaims(m.ctx, m.instanceID)
	if err != nil {
		logger.Error("failed to release stale claims", "err", err)

		return
	}

	if released > 0 {
		logger.Info("released stale transfer claims", "count", released)
	}
}

// Submit journals req and queues it. A request without ID or TrackingID
// gets fresh ones. Submitting the ID of a finished transfer starts it again,
// resuming its working file.
func (m *Manager) Submit(ctx context.Context, req transfer.Request) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if req.TrackingID == "" {
		req.TrackingID = uuid.NewString()
	}

	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()

		return "", ErrClosed
	}

	prev, ok := m.entries[req.ID]
	if ok && !prev.status.finished() {
		m.mu.Unlock()

		return "", ErrActive
	}

	e := &entry{
		req: req,
		status: Status{
			ID:         req.ID,
			Source:     transfer.RedactSource(req.Source),
			TrackingID: req.TrackingID,
			State:      storage.StatusPending,
			CreatedAt:  time.Now().UTC(),
		},
	}
	m.entries[req.ID] = e
	m.wg.Add(1)
	m.mu.Unlock()

	err := m.repo.TrackTransfer(ctx, storage.TransferRecord{
		TransferID: req.ID,
		Source:     e.status.Source,
		TrackingID: req.TrackingID,
	})
	if err != nil {
		m.mu.Lock()
		if prev != nil {
			m.entries[req.ID] = prev
		} else {
			delete(m.entries, req.ID)
		}
		m.mu.Unlock()

		m.wg.Done()

		return "", fmt.Errorf("failed to track transfer: %w", err)
	}

	go m.run(e)

	return req.ID, nil
}

// Cancel stops a pending or running transfer. Cancelling a finished transfer does nothing.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()

	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()

		return ErrNotFound
	}

	if e.status.finished() || e.cancelRequested {
		m.mu.Unlock()

		return nil
	}

	e.cancelRequested = true
	h := e.handle
	m.mu.Unlock()

	if h != nil {
		h.Cancel()

		if !h.Cancelled() {
			// The outcome was already delivered.
			return nil
		}
	}

	m.setState(e, storage.StatusCancelled)

	return m.persist(ctx, id, storage.StatusUpdate{Status: storage.StatusCancelled})
}

// Get returns the live status of a transfer, or its journal record when it
// is not known to this process.
func (m *Manager) Get(ctx context.Context, id string) (Status, error) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		s := e.status
		m.mu.Unlock()

		return s, nil
	}
	m.mu.Unlock()

	rec, err := m.repo.GetTransfer(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return Status{}, ErrNotFound
	}

	if err != nil {
		return Status{}, fmt.Errorf("failed to get transfer: %w", err)
	}

	return statusFromRecord(*rec), nil
}

// List returns every journaled transfer, live ones with their current progress.
func (m *Manager) List(ctx context.Context) ([]Status, error) {
	records, err := m.repo.GetTransfers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(records)+len(m.entries))
	seen := make(map[string]bool, len(m.entries))

	for _, e := range m.entries {
		out = append(out, e.status)
		seen[e.status.ID] = true
	}

	for _, rec := range records {
		if !seen[rec.TransferID] {
			out = append(out, statusFromRecord(rec))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}

		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

// Close cancels running transfers and waits until their callbacks and
// notifications are done.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.coord.Close()
	m.notifyWG.Wait()
}

func (m *Manager) run(e *entry) {
	defer m.wg.Done()

	id := e.req.ID
	ctx := logctx.WithTransfer(m.ctx, id, e.req.TrackingID)
	logger := logctx.LoggerFromContext(ctx)

	if err := m.sem.Acquire(ctx, 1); err != nil {
		logger.Debug("transfer abandoned before start", "err", err)

		return
	}
	defer m.sem.Release(1)

	m.mu.Lock()
	skip := e.cancelRequested
	m.mu.Unlock()

	if skip {
		return
	}

	claimed, err := m.repo.ClaimTransfer(ctx, id, m.instanceID)

	switch {
	case errors.Is(err, storage.ErrCompleted):
		m.adoptCompleted(ctx, e)

		return
	case err != nil:
		m.fail(ctx, e, fmt.Errorf("failed to claim transfer: %w", err))

		return
	case !claimed:
		m.fail(ctx, e, ErrClaimed)

		return
	}

	h := m.coord.Start(ctx, e.req, m.progressFunc(e), m.completionFunc(ctx, e))

	m.mu.Lock()
	e.handle = h
	cancelRequested := e.cancelRequested
	if !cancelRequested {
		e.status.State = storage.StatusDownloading
	}
	m.mu.Unlock()

	if cancelRequested {
		h.Cancel()
	}

	<-h.Done()

	// Cancel may have raced the claim above, so the journal is written
	// again here. Shutdown cancels without going through Cancel at all.
	if h.Cancelled() {
		m.setState(e, storage.StatusCancelled)

		if err := m.persist(ctx, id, storage.StatusUpdate{Status: storage.StatusCancelled}); err != nil {
			logger.Error("failed to record cancelled transfer", "err", err)
		}
	}
}

func (m *Manager) progressFunc(e *entry) transfer.ProgressFunc {
	return func(p transfer.Progress) {
		m.mu.Lock()
		defer m.mu.Unlock()

		e.status.Progress = p.Fraction
		e.status.Written = p.Written
		e.status.Total = p.Total
	}
}

func (m *Manager) completionFunc(ctx context.Context, e *entry) transfer.CompletionFunc {
	return func(res transfer.Result) {
		if res.Err != nil {
			m.fail(ctx, e, res.Err)

			return
		}

		m.mu.Lock()
		e.status.State = storage.StatusCompleted
		e.status.Path = res.Path
		e.status.Progress = 1
		snapshot := e.status
		m.mu.Unlock()

		logger := logctx.LoggerFromContext(ctx)

		if err := m.persist(ctx, e.req.ID, storage.StatusUpdate{Status: storage.StatusCompleted, FilePath: res.Path}); err != nil {
			logger.Error("failed to record completed transfer", "err", err)
		}

		m.notify(ctx, fmt.Sprintf("✅ Transfer completed: %s (%s)", snapshot.Path, humanize.IBytes(uint64(snapshot.Total))))
	}
}

func (m *Manager) fail(ctx context.Context, e *entry, err error) {
	kind := transfer.KindOf(err).String()

	m.mu.Lock()
	e.status.State = storage.StatusFailed
	e.status.Error = err.Error()
	e.status.ErrorKind = kind
	source := e.status.Source
	m.mu.Unlock()

	logger := logctx.LoggerFromContext(ctx)

	if perr := m.persist(ctx, e.req.ID, storage.StatusUpdate{Status: storage.StatusFailed, Error: err.Error()}); perr != nil {
		logger.Error("failed to record failed transfer", "err", perr)
	}

	m.notify(ctx, fmt.Sprintf("❌ Transfer failed: %s (%s)", source, kind))
}

// adoptCompleted reflects a transfer that an earlier run already completed.
func (m *Manager) adoptCompleted(ctx context.Context, e *entry) {
	rec, err := m.repo.GetTransfer(ctx, e.req.ID)
	if err != nil {
		m.fail(ctx, e, fmt.Errorf("failed to load completed transfer: %w", err))

		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e.status.State = storage.StatusCompleted
	e.status.Path = rec.FilePath
	e.status.Progress = 1
}

func (m *Manager) setState(e *entry, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.status.State = state
}

// persist writes a status change even while the manager shuts down.
func (m *Manager) persist(ctx context.Context, id string, update storage.StatusUpdate) error {
	return m.repo.UpdateTransferStatus(context.WithoutCancel(ctx), id, update)
}

func (m *Manager) notify(ctx context.Context, content string) {
	m.notifyWG.Add(1)

	go func() {
		defer m.notifyWG.Done()

		if err := m.notifier.Notify(context.WithoutCancel(ctx), content); err != nil {
			logctx.LoggerFromContext(ctx).Error("failed to send notification", "err", err)
		}
	}()
}

func statusFromRecord(rec storage.TransferRecord) Status {
	s := Status{
		ID:         rec.TransferID,
		Source:     rec.Source,
		TrackingID: rec.TrackingID,
		State:      rec.Status,
		Path:       rec.FilePath,
		Error:      rec.Error,
	}

	if t, err := time.Parse(time.RFC3339, rec.CreatedAt); err == nil {
		s.CreatedAt = t
	}

	if s.State == storage.StatusCompleted {
		s.Progress = 1
	}

	return s
}
