package transcode

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ConcatInput is one file to join, placed by Ordinal.
type ConcatInput struct {
	Path    string
	Ordinal int
}

// FormatManifest renders the concat-demuxer list: one `file '<abs path>'`
// line per input in ascending ordinal order.
func FormatManifest(inputs []ConcatInput) (string, error) {
	if len(inputs) == 0 {
		return "", ErrEmptyManifest
	}

	sorted := make([]ConcatInput, len(inputs))
	copy(sorted, inputs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ordinal < sorted[j].Ordinal })

	var b strings.Builder
	for _, in := range sorted {
		abs, err := filepath.Abs(in.Path)
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w", in.Path, err)
		}
		fmt.Fprintf(&b, "file '%s'\n", escapeManifestPath(abs))
	}
	return b.String(), nil
}

// WriteManifest writes the rendered manifest to path.
func WriteManifest(path string, inputs []ConcatInput) error {
	body, err := FormatManifest(inputs)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// escapeManifestPath closes the quote, emits an escaped quote and reopens,
// which is how the concat demuxer reads a literal ' inside a quoted path.
func escapeManifestPath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}
