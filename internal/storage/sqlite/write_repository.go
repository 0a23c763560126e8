package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/secure_downloader/internal/storage"
)

// TrackTransfer records a pending transfer. Tracking a known transfer again
// keeps the existing record.
func (r *TransferRepository) TrackTransfer(ctx context.Context, rec storage.TransferRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transfers (transfer_id, source, tracking_id, file_path, status, created_at)
		VALUES (?, ?, ?, ?, 'pending', ?)
		ON CONFLICT(transfer_id) DO NOTHING`,
		rec.TransferID, rec.Source, rec.TrackingID, rec.FilePath, time.Now().UTC().Format(time.RFC3339),
	)

	return err
}

// ClaimTransfer atomically sets status to 'downloading' and locked_by to instanceID if the
// transfer is not completed and not locked by another instance.
func (r *TransferRepository) ClaimTransfer(ctx context.Context, transferID, instanceID string) (bool, error) {
	var status string

	err := r.db.QueryRowContext(ctx, `SELECT status FROM transfers WHERE transfer_id = ?`, transferID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, storage.ErrNotFound
	}

	if err != nil {
		return false, err
	}

	if status == storage.StatusCompleted {
		return false, storage.ErrCompleted
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE transfers SET status = 'downloading', locked_by = ?, error = NULL
		WHERE transfer_id = ?
		AND status IN ('pending', 'failed', 'cancelled')
		AND (locked_by IS NULL OR locked_by = '' OR locked_by = ?)`,
		instanceID, transferID, instanceID,
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// UpdateTransferStatus sets the status for a transfer and releases its lock
// once it reaches a final status.
func (r *TransferRepository) UpdateTransferStatus(ctx context.Context, transferID string, update storage.StatusUpdate) error {
	var completedAt any
	if update.Status == storage.StatusCompleted {
		completedAt = time.Now().UTC().Format(time.RFC3339)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE transfers SET
			status = ?,
			file_path = COALESCE(NULLIF(?, ''), file_path),
			error = NULLIF(?, ''),
			completed_at = COALESCE(?, completed_at),
			locked_by = CASE WHEN ? = 'downloading' THEN locked_by ELSE NULL END
		WHERE transfer_id = ?`,
		update.Status, update.FilePath, update.Error, completedAt, update.Status, transferID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// ReleaseStaleClaims marks transfers left downloading by another instance as
// failed and unlocks them, so they can be claimed again. The journal has one
// live owner at a time; the caller runs this once at startup.
func (r *TransferRepository) ReleaseStaleClaims(ctx context.Context, instanceID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transfers SET status = 'failed', locked_by = NULL, error = ?
		WHERE status = 'downloading'
		AND (locked_by IS NULL OR locked_by <> ?)`,
		storage.StaleClaimError, instanceID,
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
