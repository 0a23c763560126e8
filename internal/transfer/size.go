package transfer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultSizeHeader carries the size descriptor when no other header is configured.
const DefaultSizeHeader = "Content-Length"

var errMissingSizeDescriptor = errors.New("size descriptor header is missing")

// parseSizeDescriptor reads the remaining byte count from a size descriptor.
// The value may be composite ("<range>/<n>"): only the part after the last
// '/' is used. Servers are observed to send both forms, so both are accepted
// as they are, without assuming Content-Length semantics.
func parseSizeDescriptor(value string) (int64, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, errMissingSizeDescriptor
	}

	if i := strings.LastIndex(v, "/"); i >= 0 {
		v = strings.TrimSpace(v[i+1:])
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable size descriptor %q: %w", value, err)
	}

	if n < 0 {
		return 0, fmt.Errorf("negative size descriptor %q", value)
	}

	return n, nil
}
