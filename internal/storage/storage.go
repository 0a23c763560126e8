package storage

import (
	"context"
	"errors"
)

const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusCancelled   = "cancelled"
)

var (
	// ErrCompleted is returned when claiming a transfer that already completed.
	ErrCompleted = errors.New("transfer already completed")
	ErrNotFound  = errors.New("transfer not found")
)

// TransferRecord is the journal entry of one transfer. The secure content
// reference is never stored.
type TransferRecord struct {
	TransferID  string
	Source      string
	TrackingID  string
	FilePath    string
	Status      string
	Error       string
	LockedBy    string
	CreatedAt   string
	CompletedAt string
}

// StatusUpdate is applied by UpdateTransferStatus. FilePath and Error are
// only written when non-empty.
// StaleClaimError is recorded on transfers whose owning process went away
// while they were downloading.
const StaleClaimError = "interrupted: owning process stopped"

type StatusUpdate struct {
	Status   string
	FilePath string
	Error    string
}

type TransferReadRepository interface {
	GetTransfer(ctx context.Context, transferID string) (*TransferRecord, error)
	GetTransfers(ctx context.Context) ([]TransferRecord, error)
}

type TransferWriteRepository interface {
	TrackTransfer(ctx context.Context, rec TransferRecord) error
	ClaimTransfer(ctx context.Context, transferID, instanceID string) (bool, error) // atomically claim a transfer
	UpdateTransferStatus(ctx context.Context, transferID string, update StatusUpdate) error
	// ReleaseStaleClaims fails every downloading transfer not claimed by instanceID.
	ReleaseStaleClaims(ctx context.Context, instanceID string) (int64, error)
}

type TransferRepository interface {
	TransferReadRepository
	TransferWriteRepository
}
