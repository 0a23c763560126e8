package cleanup

import (
	"context"
	"os"
	"time"

	"github.com/italolelis/secure_downloader/internal/logctx"
	"github.com/italolelis/secure_downloader/internal/storage"
)

// DeleteExpiredFiles deletes the files of completed transfers older than keepDuration.
func DeleteExpiredFiles(ctx context.Context, records []storage.TransferRecord, keepDuration time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()
	deleted := 0

	for _, rec := range records {
		if rec.Status != storage.StatusCompleted || rec.FilePath == "" {
			continue
		}

		info, err := os.Stat(rec.FilePath)
		if err != nil {
			if os.IsNotExist(err) {
				continue // already deleted
			}

			logger.Error("failed to stat file", "file", rec.FilePath, "err", err)

			return deleted, err
		}

		completedAt, err := time.Parse(time.RFC3339, rec.CompletedAt)
		if err != nil {
			// fallback: use file mod time
			logger.Warn("failed to parse completion time, using file mod time", "file", rec.FilePath, "err", err)

			completedAt = info.ModTime()
		}

		if now.Sub(completedAt) > keepDuration {
			if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
				logger.Error("failed to delete expired file", "file", rec.FilePath, "err", err)

				return deleted, err
			}

			deleted++

			logger.Info("deleted expired file", "file", rec.FilePath, "transfer_id", rec.TransferID)
		}
	}

	return deleted, nil
}
