// Package local_test tests the local filesystem blob store.
package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/policy-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	notADir := filepath.Join(t.TempDir(), "plain-file")
	require.NoError(t, os.WriteFile(notADir, []byte("x"), 0o600))

	cases := map[string]struct {
		dir     string
		wantErr bool
	}{
		"output dir":       {dir: t.TempDir()},
		"missing base dir": {dir: "", wantErr: true},
		"file not dir":     {dir: notADir, wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			store, err := local.New(local.Config{BaseDir: tc.dir})
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, store)
		})
	}
}

func TestPutObject(t *testing.T) {
	tempDir := t.TempDir()
	cfg := local.Config{BaseDir: tempDir}
	store, err := local.New(cfg)
	require.NoError(t, err)

	t.Run("ValidPut", func(t *testing.T) {
		path := "json/policy_abc.json"
		data := []byte(`{"title":"土地管理法"}`)
		uri, err := store.PutObject(context.Background(), path, "text/plain", bytes.NewReader(data))
		require.NoError(t, err)

		expectedURI := "file://" + filepath.Join(tempDir, path)
		assert.Equal(t, expectedURI, uri)

		// Verify the file was written correctly.
		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "", "text/plain", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})

	t.Run("NestedPath", func(t *testing.T) {
		path := "files/2024/0001_土地管理法_附件1.docx"
		data := []byte("nested attachment")
		uri, err := store.PutObject(context.Background(), path, "text/plain", bytes.NewReader(data))
		require.NoError(t, err)

		expectedURI := "file://" + filepath.Join(tempDir, path)
		assert.Equal(t, expectedURI, uri)

		// Verify the file was written correctly.
		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})
}

func TestPutObjectRejectsTraversal(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../escape.md", "text/markdown", bytes.NewReader([]byte("x")))
	require.ErrorContains(t, err, "path traversal")
}

func TestList(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	paths, err := store.List(ctx, "markdown/")
	require.NoError(t, err)
	assert.Empty(t, paths)

	for _, p := range []string{"markdown/0002_b.md", "markdown/0001_a.md", "files/0001_a_x.pdf"} {
		_, err := store.PutObject(ctx, p, "", bytes.NewReader([]byte("x")))
		require.NoError(t, err)
	}

	paths, err = store.List(ctx, "markdown/")
	require.NoError(t, err)
	assert.Equal(t, []string{"markdown/0001_a.md", "markdown/0002_b.md"}, paths)

	paths, err = store.List(ctx, "files/0001")
	require.NoError(t, err)
	assert.Equal(t, []string{"files/0001_a_x.pdf"}, paths)
}
