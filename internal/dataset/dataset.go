// Package dataset loads labelled image datasets laid out as one directory per
// class and encodes their string labels as class indices.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"scene-bench/internal/common"

	"github.com/rs/zerolog/log"
)

// ErrEmpty is returned when a dataset directory holds no images.
var ErrEmpty = errors.New("dataset: no images found")

// Dataset is an ordered list of image paths and their string labels.
// It is never modified after Load returns.
type Dataset struct {
	Files  []string
	Labels []string
}

// Load reads dir/<label>/<image>. Labels are visited in sorted order and
// files are sorted within each label, so two loads of the same tree agree.
func Load(dir string) (Dataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Dataset{}, fmt.Errorf("failed to read dataset directory %s: %w", dir, err)
	}

	var ds Dataset
	for _, entry := range entries { // ReadDir returns entries sorted by name
		if !entry.IsDir() {
			continue
		}
		label := entry.Name()
		files, err := os.ReadDir(filepath.Join(dir, label))
		if err != nil {
			return Dataset{}, fmt.Errorf("failed to read class directory %s: %w", label, err)
		}
		for _, f := range files {
			if f.IsDir() || !IsImage(f.Name()) {
				continue
			}
			ds.Files = append(ds.Files, filepath.Join(dir, label, f.Name()))
			ds.Labels = append(ds.Labels, label)
		}
	}

	if len(ds.Files) == 0 {
		return Dataset{}, fmt.Errorf("%w in %s", ErrEmpty, dir)
	}

	log.Info().
		Str("dir", dir).
		Int("images", len(ds.Files)).
		Int("classes", len(ds.Classes())).
		Msg("Dataset loaded")

	return ds, nil
}

// IsImage reports whether name has a supported image extension.
func IsImage(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return slices.Contains(common.ImageExtensions, ext)
}

func (d Dataset) Len() int {
	return len(d.Files)
}

// Classes returns the sorted unique labels.
func (d Dataset) Classes() []string {
	seen := make(map[string]struct{}, 16)
	for _, l := range d.Labels {
		seen[l] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Counts returns the number of images per label.
func (d Dataset) Counts() map[string]int {
	counts := make(map[string]int)
	for _, l := range d.Labels {
		counts[l]++
	}
	return counts
}
