package api

import (
	"context"
	"io"
	"net/http"

	"github.com/verita-ai/verita/internal/log"
	"github.com/verita-ai/verita/internal/session"
)

// maxMediaBytes bounds a single upload. The models accept documents and
// images well below this.
const maxMediaBytes = 32 << 20

// MediaStore persists user attachments, scoped to a conversation.
type MediaStore interface {
	UploadMedia(ctx context.Context, userID, sessionID string, data []byte, mimeType string) (string, error)
	ListUploadedMedia(ctx context.Context, userID, sessionID, messageID string) ([]session.MediaObject, error)
}

// MediaHandler handles attachment endpoints.
type MediaHandler struct {
	store  MediaStore
	logger log.Logger
}

// NewMediaHandler creates a new media handler.
func NewMediaHandler(store MediaStore, logger log.Logger) *MediaHandler {
	return &MediaHandler{store: store, logger: logger}
}

// RegisterRoutes registers media routes on the given mux.
func (h *MediaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/users/{userID}/chats/{sessionID}/media", h.handleUpload)
	mux.HandleFunc("GET /api/users/{userID}/chats/{sessionID}/messages/{messageID}/media", h.handleList)
}

// MediaResponse is the response body of a successful upload.
type MediaResponse struct {
	URI string `json:"uri"`
}

// MediaFile describes one attachment in a listing.
type MediaFile struct {
	FileName     string `json:"fileName"`
	FileMimeType string `json:"fileMimeType"`
	FileSize     int64  `json:"fileSize"`
	GcsPath      string `json:"gcsPath"`
}

// MediaListResponse is the response body of the listing endpoint.
type MediaListResponse struct {
	Files []MediaFile `json:"files"`
}

// handleUpload stores the raw request body as an attachment of the
// session. The body's Content-Type header determines how the models
// will interpret it.
func (h *MediaHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	sessionID := r.PathValue("sessionID")
	mimeType := r.Header.Get("Content-Type")
	if mimeType == "" {
		writeError(w, h.logger, http.StatusBadRequest, "MISSING_CONTENT_TYPE", "Content-Type is required")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMediaBytes))
	if err != nil {
		writeError(w, h.logger, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, h.logger, http.StatusBadRequest, "EMPTY_BODY", "request body is empty")
		return
	}

	uri, err := h.store.UploadMedia(r.Context(), userID, sessionID, data, mimeType)
	if err != nil {
		h.logger.Error("media upload failed", "error", err, "userId", userID, "sessionId", sessionID)
		writeError(w, h.logger, http.StatusInternalServerError, "UPLOAD_ERROR", err.Error())
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, MediaResponse{URI: uri})
}

// handleList returns the attachments a client parked for one message of
// the session before sending the chat request referencing them.
func (h *MediaHandler) handleList(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	sessionID := r.PathValue("sessionID")
	messageID := r.PathValue("messageID")

	objects, err := h.store.ListUploadedMedia(r.Context(), userID, sessionID, messageID)
	if err != nil {
		h.logger.Error("media listing failed", "error", err, "userId", userID, "sessionId", sessionID)
		writeError(w, h.logger, http.StatusInternalServerError, "LIST_ERROR", err.Error())
		return
	}

	files := make([]MediaFile, 0, len(objects))
	for _, o := range objects {
		files = append(files, MediaFile{
			FileName:     o.Name,
			FileMimeType: o.MIME,
			FileSize:     o.Size,
			GcsPath:      o.URI,
		})
	}
	writeJSON(w, h.logger, http.StatusOK, MediaListResponse{Files: files})
}
