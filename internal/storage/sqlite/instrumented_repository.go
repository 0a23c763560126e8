package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/secure_downloader/internal/storage"
	"github.com/italolelis/secure_downloader/internal/telemetry"
)

// InstrumentedTransferRepository wraps TransferRepository with telemetry.
type InstrumentedTransferRepository struct {
	repo      *TransferRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedTransferRepository creates a new instrumented transfer repository.
func NewInstrumentedTransferRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedTransferRepository {
	return &InstrumentedTransferRepository{
		repo:      NewTransferRepository(dbConn),
		telemetry: tel,
	}
}

// GetTransfer retrieves one transfer with telemetry.
func (r *InstrumentedTransferRepository) GetTransfer(ctx context.Context, transferID string) (*storage.TransferRecord, error) {
	var result *storage.TransferRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_transfer", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetTransfer(ctx, transferID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetTransfers retrieves all transfers with telemetry.
func (r *InstrumentedTransferRepository) GetTransfers(ctx context.Context) ([]storage.TransferRecord, error) {
	var result []storage.TransferRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_transfers", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetTransfers(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// TrackTransfer records a transfer with telemetry.
func (r *InstrumentedTransferRepository) TrackTransfer(ctx context.Context, rec storage.TransferRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "track_transfer", func(ctx context.Context) error {
		return r.repo.TrackTransfer(ctx, rec)
	})
}

// ClaimTransfer claims a transfer with telemetry.
func (r *InstrumentedTransferRepository) ClaimTransfer(ctx context.Context, transferID, instanceID string) (bool, error) {
	var result bool

	err := r.telemetry.InstrumentDBOperation(ctx, "claim_transfer", func(ctx context.Context) error {
		var err error

		result, err = r.repo.ClaimTransfer(ctx, transferID, instanceID)

		return err
	})
	if err != nil {
		return false, err
	}

	return result, nil
}

// UpdateTransferStatus updates transfer status with telemetry.
func (r *InstrumentedTransferRepository) UpdateTransferStatus(ctx context.Context, transferID string, update storage.StatusUpdate) error {
	return r.telemetry.InstrumentDBOperation(ctx, "update_transfer_status", func(ctx context.Context) error {
		return r.repo.UpdateTransferStatus(ctx, transferID, update)
	})
}

// ReleaseStaleClaims releases stale claims with telemetry.
func (r *InstrumentedTransferRepository) ReleaseStaleClaims(ctx context.Context, instanceID string) (int64, error) {
	var released int64

	err := r.telemetry.InstrumentDBOperation(ctx, "release_stale_claims", func(ctx context.Context) error {
		var err error

		released, err = r.repo.ReleaseStaleClaims(ctx, instanceID)

		return err
	})

	return released, err
}
