package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dlevesque1980/dailywallpaper-sub001/pkg/crop"
	"github.com/dlevesque1980/dailywallpaper-sub001/pkg/smartfit"
	"github.com/dlevesque1980/dailywallpaper-sub001/util/log"
)

// cropRequest is the body of POST /crop.
type cropRequest struct {
	ImageURL  string         `json:"image_url"`
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	Settings  *crop.Settings `json:"settings,omitempty"`
	TimeoutMS int            `json:"timeout_ms,omitempty"`
}

type imageRequest struct {
	ImageURL string         `json:"image_url"`
	Settings *crop.Settings `json:"settings,omitempty"`
}

// loadError marks failures to fetch or decode the image itself.
type loadError struct{ err error }

func (e *loadError) Error() string { return e.err.Error() }
func (e *loadError) Unwrap() error { return e.err }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "running",
		"version": s.version,
	})
}

// handleWebSocket upgrades the connection and keeps it registered until the client leaves.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("API: WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.clientsMu.Lock()
	s.clients[conn] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, conn)
		s.clientsMu.Unlock()
	}()

	// Clients only send keepalives; reading also processes close frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// sourceRef maps an image identity to a reference the loader understands.
// Remote URLs pass through; local://{namespace}/{file} resolves inside a registered directory.
func (s *Server) sourceRef(imageURL string) (string, error) {
	u, err := url.Parse(imageURL)
	if err != nil {
		return "", fmt.Errorf("invalid image_url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return imageURL, nil
	case "local":
		return s.resolveLocalImage(u.Host, strings.TrimPrefix(u.Path, "/"))
	default:
		return "", fmt.Errorf("unsupported image_url scheme %q", u.Scheme)
	}
}

func (s *Server) loadFunc(ref string) func(ctx context.Context) (*crop.Source, error) {
	return func(ctx context.Context) (*crop.Source, error) {
		src, err := s.loader.Load(ctx, ref)
		if err != nil {
			return nil, &loadError{err: err}
		}
		return src, nil
	}
}

// handleCrop resolves the crop for one image and target size.
func (s *Server) handleCrop(w http.ResponseWriter, r *http.Request) {
	var req cropRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ImageURL == "" {
		writeError(w, http.StatusBadRequest, "image_url is required")
		return
	}
	target := crop.Size{Width: req.Width, Height: req.Height}
	if err := target.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ref, err := s.sourceRef(req.ImageURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	settings := crop.DefaultSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}

	res, err := s.resolver.Resolve(r.Context(), smartfitRequest(req.ImageURL, target, settings, req.TimeoutMS, s.loadFunc(ref)))
	if err != nil {
		var le *loadError
		switch {
		case errors.As(err, &le):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, smartfit.ErrLoadTimeout):
			writeError(w, http.StatusGatewayTimeout, err.Error())
		case errors.Is(err, context.Canceled):
			writeError(w, http.StatusServiceUnavailable, "request canceled")
		default:
			log.Printf("API: crop of %s failed: %v", req.ImageURL, err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleStats reports cache contents and resolution counters.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	st, err := s.resolver.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleMaintenance runs one maintenance pass.
func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	res := s.resolver.Maintain()
	status := http.StatusOK
	if !res.Success {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}

// handleInvalidate drops every cached crop of one image.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ImageURL == "" {
		writeError(w, http.StatusBadRequest, "image_url is required")
		return
	}
	n, err := s.resolver.Invalidate(req.ImageURL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// handlePreload computes crops of one image for the common screen sizes.
func (s *Server) handlePreload(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ImageURL == "" {
		writeError(w, http.StatusBadRequest, "image_url is required")
		return
	}
	ref, err := s.sourceRef(req.ImageURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	settings := crop.DefaultSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}

	src, err := s.loader.Load(r.Context(), ref)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	res, err := s.resolver.Preload(r.Context(), req.ImageURL, src, settings)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func smartfitRequest(imageURL string, target crop.Size, settings crop.Settings, timeoutMS int, load func(context.Context) (*crop.Source, error)) smartfit.Request {
	return smartfit.Request{
		ImageURL: imageURL,
		Load:     load,
		Target:   target,
		Settings: settings,
		Timeout:  time.Duration(timeoutMS) * time.Millisecond,
	}
}
