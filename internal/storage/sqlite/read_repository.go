package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/italolelis/secure_downloader/internal/storage"
)

// TransferRepository stores transfer records in SQLite.
type TransferRepository struct {
	db *sql.DB
}

func NewTransferRepository(dbConn *sql.DB) *TransferRepository {
	return &TransferRepository{db: dbConn}
}

const selectTransfers = `SELECT
		transfer_id,
		source,
		tracking_id,
		file_path,
		status,
		error,
		locked_by,
		created_at,
		completed_at
	FROM transfers`

func (r *TransferRepository) GetTransfer(ctx context.Context, transferID string) (*storage.TransferRecord, error) {
	row := r.db.QueryRowContext(ctx, selectTransfers+` WHERE transfer_id = ?`, transferID)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return record, nil
}

func (r *TransferRepository) GetTransfers(ctx context.Context) ([]storage.TransferRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectTransfers+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []storage.TransferRecord

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		transfers = append(transfers, *record)
	}

	return transfers, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*storage.TransferRecord, error) {
	var record storage.TransferRecord

	var trackingID, filePath, errMsg, lockedBy, createdAt, completedAt sql.NullString

	err := s.Scan(
		&record.TransferID,
		&record.Source,
		&trackingID,
		&filePath,
		&record.Status,
		&errMsg,
		&lockedBy,
		&createdAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	record.TrackingID = trackingID.String
	record.FilePath = filePath.String
	record.Error = errMsg.String
	record.LockedBy = lockedBy.String
	record.CreatedAt = createdAt.String
	record.CompletedAt = completedAt.String

	return &record, nil
}
