package handlers

import (
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/artifacts"
)

// ArtifactHandler serves stored artifacts through signed URLs.
type ArtifactHandler struct {
	store  *artifacts.Store
	logger arbor.ILogger
}

func NewArtifactHandler(store *artifacts.Store, logger arbor.ILogger) *ArtifactHandler {
	return &ArtifactHandler{store: store, logger: logger}
}

// ServeHandler streams one artifact after verifying its signature.
// GET /artifacts/{key}?expires=...&sig=...
func (h *ArtifactHandler) ServeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/artifacts/")
	if key == "" {
		WriteError(w, http.StatusBadRequest, "artifact key is required")
		return
	}

	expires, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid expiry")
		return
	}
	if err := h.store.VerifySignature(key, expires, r.URL.Query().Get("sig")); err != nil {
		WriteError(w, http.StatusForbidden, "invalid or expired signature")
		return
	}

	data, err := h.store.Get(r.Context(), key)
	if err != nil {
		WriteError(w, http.StatusNotFound, "artifact not found")
		return
	}

	w.Header().Set("Content-Type", contentTypeForKey(key))
	w.Write(data)
}

func contentTypeForKey(key string) string {
	switch path.Ext(key) {
	case ".json":
		return "application/json"
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".html":
		return "text/html; charset=utf-8"
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}
