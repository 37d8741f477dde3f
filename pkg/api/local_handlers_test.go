package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCollection(t *testing.T, rootPath, colID string, files ...string) string {
	t.Helper()
	colPath := filepath.Join(rootPath, colID)
	require.NoError(t, os.MkdirAll(colPath, 0755))
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(colPath, f), []byte("image_data"), 0644))
	}
	return colPath
}

func TestLocalListing(t *testing.T) {
	root := t.TempDir()
	setupCollection(t, root, "beach", "b.jpg", "a.png", "notes.txt", "c.webp")

	s, _, _ := newTestServer(t)
	s.RegisterNamespace("photos", root)

	req := httptest.NewRequest(http.MethodGet, "/local/photos/beach/images?per_page=2", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var images []LocalImage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &images))
	require.Len(t, images, 2)
	assert.Equal(t, "a", images[0].ID)
	assert.Equal(t, "local://photos/beach/a.png", images[0].ImageURL)
	assert.Contains(t, images[0].AssetURL, "/local/photos/beach/assets/a.png")

	req = httptest.NewRequest(http.MethodGet, "/local/photos/beach/images?page=2&per_page=2", nil)
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &images))
	require.Len(t, images, 1)
	assert.Equal(t, "c", images[0].ID)

	req = httptest.NewRequest(http.MethodGet, "/local/photos/missing/images", nil)
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestLocalAssetAndTraversal(t *testing.T) {
	root := t.TempDir()
	setupCollection(t, root, "beach", "a.jpg")
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(root), "secret.txt"), []byte("x"), 0644))

	s, _, _ := newTestServer(t)
	s.RegisterNamespace("photos", root)

	req := httptest.NewRequest(http.MethodGet, "/local/photos/beach/assets/a.jpg", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image_data", rr.Body.String())

	for _, path := range []string{
		"/local/photos/../images",
		"/local/photos/beach/assets/..%2Fsecret.txt",
		"/local/unknown/beach/images",
		"/local/photos/beach/bogus",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, req)
		assert.NotEqual(t, http.StatusOK, rr.Code, path)
	}
}

func TestCropLocalImage(t *testing.T) {
	root := t.TempDir()
	colPath := setupCollection(t, root, "beach", "a.jpg")

	s, _, loader := newTestServer(t)
	s.RegisterNamespace("photos", root)

	rr := postJSON(t, s.Handler(), "/crop", map[string]interface{}{"image_url": "local://photos/beach/a.jpg", "width": 100, "height": 100})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	abs, err := filepath.Abs(filepath.Join(colPath, "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []string{abs}, loader.Refs())

	rr = postJSON(t, s.Handler(), "/crop", map[string]interface{}{"image_url": "local://photos/beach/../../secret.txt", "width": 100, "height": 100})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
