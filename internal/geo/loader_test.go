package geo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemplateFile(t *testing.T, name string, tmpl Template, compress bool) string {
	t.Helper()

	raw, err := json.Marshal(tmpl)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	if compress {
		zw := gzip.NewWriter(f)
		_, err = zw.Write(raw)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
	} else {
		_, err = f.Write(raw)
		require.NoError(t, err)
	}
	return path
}

func TestLoadTemplateFile(t *testing.T) {
	ctx := context.Background()
	want := kiteTemplate()

	t.Run("plain json", func(t *testing.T) {
		path := writeTemplateFile(t, "keyhole.json", want, false)
		got, err := LoadTemplate(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("gzipped json", func(t *testing.T) {
		path := writeTemplateFile(t, "keyhole.json.gz", want, true)
		got, err := LoadTemplate(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}

func TestLoadTemplateErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadTemplate(ctx, filepath.Join(t.TempDir(), "absent.json"))
		require.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
		_, err := LoadTemplate(ctx, path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode keyhole template")
	})

	t.Run("valid json failing validation", func(t *testing.T) {
		path := writeTemplateFile(t, "degenerate.json", Template{Vertices: []Vertex{{0, 1}}}, false)
		_, err := LoadTemplate(ctx, path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least 3 vertices")
	})

	t.Run("gz suffix on plain payload", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "fake.json.gz")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
		_, err := LoadTemplate(ctx, path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decompress keyhole template")
	})

	t.Run("malformed s3 uri", func(t *testing.T) {
		_, err := LoadTemplate(ctx, "s3://bucket-without-key")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "malformed s3 uri")
	})
}
