// Package ids selects the identifier scheme used for request and file ids.
package ids

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lucsky/cuid"
)

// Generator returns the id function for mode ("uuid" or "cuid").
func Generator(mode string) (func() string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "uuid":
		return uuid.NewString, nil
	case "cuid":
		return cuid.New, nil
	default:
		return nil, fmt.Errorf("unsupported id mode %q (use uuid or cuid)", mode)
	}
}

// Short returns the first n characters of a fresh id, skipping separators.
func Short(gen func() string, n int) string {
	id := strings.ReplaceAll(gen(), "-", "")
	if len(id) > n {
		id = id[:n]
	}
	return id
}
