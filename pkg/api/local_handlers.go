package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// imageExts are the file types the loader can decode.
var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true, ".bmp": true, ".tif": true, ".tiff": true}

// resolveCollectionPath resolves a collection path relative to a namespace root and
// enforces that the resulting absolute path is contained within the root.
func resolveCollectionPath(rootPath, collectionID string) (string, error) {
	absRoot, err := filepath.Abs(rootPath)
	if err != nil {
		return "", fmt.Errorf("invalid namespace root: %w", err)
	}
	absRoot = filepath.Clean(absRoot)

	absCollection, err := filepath.Abs(filepath.Join(absRoot, collectionID))
	if err != nil {
		return "", fmt.Errorf("invalid collection path: %w", err)
	}
	absCollection = filepath.Clean(absCollection)

	if absCollection != absRoot && !strings.HasPrefix(absCollection, absRoot+string(os.PathSeparator)) {
		return "", fmt.Errorf("path traversal detected")
	}

	return absCollection, nil
}

// resolveAssetPath joins a single file name to a collection directory.
func resolveAssetPath(collectionPath, filename string) (string, error) {
	if filename == "" || strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") || filepath.Base(filename) != filename {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	full := filepath.Clean(filepath.Join(collectionPath, filename))
	if !strings.HasPrefix(full, collectionPath+string(os.PathSeparator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}

func validCollectionID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

// resolveLocalImage maps local://{namespace}/{collection}/{file} to a file path.
func (s *Server) resolveLocalImage(namespace, rel string) (string, error) {
	rootPath, ok := s.namespaces[namespace]
	if !ok {
		return "", fmt.Errorf("unknown namespace %q", namespace)
	}
	parts := strings.Split(rel, "/")
	if len(parts) != 2 || !validCollectionID(parts[0]) {
		return "", fmt.Errorf("local image must be {collection}/{file}, got %q", rel)
	}
	collectionPath, err := resolveCollectionPath(rootPath, parts[0])
	if err != nil {
		return "", err
	}
	return resolveAssetPath(collectionPath, parts[1])
}

// handleLocal routes requests to local namespace handlers
// Path format: /local/{namespace}/{collectionID}/{action}/...
//  1. list: /local/{namespace}/{collectionID}/images?page=1&per_page=20
//  2. asset: /local/{namespace}/{collectionID}/assets/{filename}
func (s *Server) handleLocal(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/local/")
	parts := strings.Split(path, "/")

	if len(parts) < 3 {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	namespace := parts[0]
	collectionID := parts[1]
	action := parts[2]

	if !validCollectionID(collectionID) {
		http.Error(w, "Invalid collection ID", http.StatusBadRequest)
		return
	}

	rootPath, ok := s.namespaces[namespace]
	if !ok {
		http.Error(w, "Namespace not found", http.StatusNotFound)
		return
	}

	collectionPath, err := resolveCollectionPath(rootPath, collectionID)
	if err != nil {
		http.Error(w, "Invalid collection path or traversal detected", http.StatusBadRequest)
		return
	}

	switch action {
	case "images":
		s.handleLocalListing(w, r, collectionPath, namespace, collectionID)
	case "assets":
		if len(parts) < 4 {
			http.Error(w, "Missing filename", http.StatusBadRequest)
			return
		}
		assetPath, err := resolveAssetPath(collectionPath, parts[3])
		if err != nil {
			http.Error(w, "Invalid asset path", http.StatusBadRequest)
			return
		}
		http.ServeFile(w, r, assetPath)
	default:
		http.Error(w, "Unknown action", http.StatusNotFound)
	}
}

// LocalImage is one croppable image in a registered directory.
type LocalImage struct {
	ID       string `json:"id"`
	ImageURL string `json:"image_url"` // identity to pass to /crop
	AssetURL string `json:"asset_url"`
}

func (s *Server) handleLocalListing(w http.ResponseWriter, r *http.Request, collectionPath, namespace, collectionID string) {
	page := 1
	perPage := 24
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if pp, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && pp > 0 {
		perPage = pp
	}

	entries, err := os.ReadDir(collectionPath)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, []LocalImage{})
			return
		}
		http.Error(w, "Failed to read directory", http.StatusInternalServerError)
		return
	}

	var images []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			images = append(images, e.Name())
		}
	}
	sort.Strings(images)

	start := (page - 1) * perPage
	if start > len(images) {
		start = len(images)
	}
	end := start + perPage
	if end > len(images) {
		end = len(images)
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	result := make([]LocalImage, 0, end-start)
	for _, name := range images[start:end] {
		result = append(result, LocalImage{
			ID:       strings.TrimSuffix(name, filepath.Ext(name)),
			ImageURL: fmt.Sprintf("local://%s/%s/%s", namespace, collectionID, name),
			AssetURL: fmt.Sprintf("%s://%s/local/%s/%s/assets/%s", scheme, r.Host, namespace, collectionID, name),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
