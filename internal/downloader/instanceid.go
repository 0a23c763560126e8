package downloader

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// GenerateInstanceID returns <host>-<pid>-<random>, the owner recorded on
// journal claims made by this process.
func GenerateInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}

	suffix, _, _ := strings.Cut(uuid.NewString(), "-")

	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), suffix)
}
