package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestLoad(t *testing.T) {
	root := writeTree(t, map[string]string{
		"street/b.jpg":      "x",
		"street/a.JPG":      "x",
		"coast/z.png":       "x",
		"coast/notes.txt":   "ignored",
		"forest/img01.jpeg": "x",
		"README.md":         "ignored",
	})

	ds, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, 4, ds.Len())
	assert.Equal(t, []string{"coast", "forest", "street", "street"}, ds.Labels)
	assert.Equal(t, filepath.Join(root, "coast", "z.png"), ds.Files[0])
	// Sorted by name within a class
	assert.Equal(t, filepath.Join(root, "street", "a.JPG"), ds.Files[2])
	assert.Equal(t, []string{"coast", "forest", "street"}, ds.Classes())
	assert.Equal(t, 2, ds.Counts()["street"])
}

func TestLoad_Deterministic(t *testing.T) {
	root := writeTree(t, map[string]string{
		"b/1.png": "x", "b/2.png": "x", "a/3.png": "x",
	})

	first, err := Load(root)
	require.NoError(t, err)
	second, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	empty := writeTree(t, map[string]string{"coast/readme.txt": "x"})
	_, err = Load(empty)
	assert.True(t, errors.Is(err, ErrEmpty), "expected ErrEmpty, got %v", err)
}

func TestIsImage(t *testing.T) {
	for name, want := range map[string]bool{
		"a.jpg": true, "a.JPEG": true, "a.png": true, "a.webp": true, "a.tiff": true,
		"a.txt": false, "a": false, "jpg": false,
	} {
		if got := IsImage(name); got != want {
			t.Errorf("IsImage(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestLabelEncoder(t *testing.T) {
	le := (&LabelEncoder{}).Fit([]string{"street", "coast", "forest", "coast"})

	assert.Equal(t, []string{"coast", "forest", "street"}, le.Classes())

	ids, err := le.Transform([]string{"forest", "street", "coast"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 0}, ids)

	labels, err := le.InverseTransform(ids)
	require.NoError(t, err)
	assert.Equal(t, []string{"forest", "street", "coast"}, labels)

	_, err = le.Transform([]string{"mountain"})
	assert.Error(t, err)

	_, err = le.InverseTransform([]int{3})
	assert.Error(t, err)
}

func TestLabelEncoder_NotFitted(t *testing.T) {
	var le LabelEncoder
	_, err := le.Transform([]string{"coast"})
	assert.Error(t, err)
}
