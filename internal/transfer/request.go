package transfer

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultDirName is the subdirectory of os.TempDir() used when neither the
	// request nor the coordinator name a target directory.
	DefaultDirName = "secure_downloader.downloads"

	encryptedPrefix = "encrypted-"
	thumbnailPrefix = "thumb-"
	fallbackLayout  = "2006-01-02T15:04:05Z"
)

// DefaultTargetDir returns <os.TempDir()>/secure_downloader.downloads.
func DefaultTargetDir() string {
	return filepath.Join(os.TempDir(), DefaultDirName)
}

// Request describes one resource to fetch. It is treated as immutable once
// handed to Coordinator.Start.
type Request struct {
	// ID is the random id used to name the working file in inline mode.
	// Starting the same request again reuses the same working file and resumes it.
	ID string
	// Source is the http(s) URL of the resource.
	Source string
	// TrackingID is sent as ITCLIENT_<TrackingID>_0 in the TrackingID header.
	TrackingID string
	// TargetDir overrides the coordinator's directory.
	TargetDir string
	// FileName fixes the final name and switches the transfer to post-hoc decryption.
	FileName string
	// DisplayName is the inline-mode fallback name; a timestamp is used when empty.
	DisplayName string
	// Thumbnail prefixes the inline-mode working name with "thumb-".
	Thumbnail bool
	// SecureContentRef is the JSON encoded secure content reference, if the
	// resource is encrypted.
	SecureContentRef string
	// Executor runs the progress and completion callbacks. The coordinator's
	// executor is used when nil.
	Executor Executor
}

// NewRequest returns a request for source with fresh ID and TrackingID.
func NewRequest(source string) Request {
	return Request{
		ID:         uuid.NewString(),
		TrackingID: uuid.NewString(),
		Source:     source,
	}
}

// Mode is how a transfer treats encrypted content.
type Mode int

const (
	// ModePlain stores the bytes as received.
	ModePlain Mode = iota
	// ModeInline decrypts bytes as they arrive.
	ModeInline
	// ModePostHoc stores ciphertext and decrypts it into the final file once complete.
	ModePostHoc
)

func (m Mode) String() string {
	switch m {
	case ModeInline:
		return "inline"
	case ModePostHoc:
		return "post_hoc"
	default:
		return "plain"
	}
}

// naming is the file layout derived from a request.
type naming struct {
	mode        Mode
	dir         string
	workingPath string
	finalPath   string
}

func resolveNaming(req Request, defaultDir string, now time.Time) naming {
	dir := req.TargetDir
	if dir == "" {
		dir = defaultDir
	}

	if name := sanitizeName(req.FileName); name != "" {
		return naming{
			mode:        ModePostHoc,
			dir:         dir,
			workingPath: filepath.Join(dir, encryptedPrefix+name),
			finalPath:   filepath.Join(dir, name),
		}
	}

	fallback := sanitizeName(req.DisplayName)
	if fallback == "" {
		fallback = now.UTC().Format(fallbackLayout)
	}

	name := req.ID + "-" + fallback
	if req.Thumbnail {
		name = thumbnailPrefix + name
	}

	mode := ModePlain
	if req.SecureContentRef != "" {
		mode = ModeInline
	}

	working := filepath.Join(dir, name)

	return naming{
		mode:        mode,
		dir:         dir,
		workingPath: working,
		finalPath:   working,
	}
}

// sanitizeName keeps only the last path element so a name can never leave
// the target directory.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if base == "/" || base == "." || base == ".." {
		return ""
	}

	return base
}
