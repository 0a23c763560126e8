package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/secure_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(name), 0o644))

	return path
}

func TestDeleteExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339)
	recent := time.Now().UTC().Format(time.RFC3339)

	expired := writeFile(t, dir, "expired.bin")
	fresh := writeFile(t, dir, "fresh.bin")
	running := writeFile(t, dir, "running.bin")
	undated := writeFile(t, dir, "undated.bin")

	records := []storage.TransferRecord{
		{TransferID: "1", Status: storage.StatusCompleted, FilePath: expired, CompletedAt: old},
		{TransferID: "2", Status: storage.StatusCompleted, FilePath: fresh, CompletedAt: recent},
		{TransferID: "3", Status: storage.StatusDownloading, FilePath: running, CompletedAt: old},
		{TransferID: "4", Status: storage.StatusCompleted, FilePath: undated},
		{TransferID: "5", Status: storage.StatusCompleted, FilePath: filepath.Join(dir, "gone.bin"), CompletedAt: old},
		{TransferID: "6", Status: storage.StatusCompleted},
	}

	deleted, err := DeleteExpiredFiles(context.Background(), records, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	assert.NoFileExists(t, expired)
	assert.FileExists(t, fresh)
	assert.FileExists(t, running)
	assert.FileExists(t, undated, "an unparsable completion time falls back to the fresh mod time")
}
