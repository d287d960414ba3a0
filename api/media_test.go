package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verita-ai/verita/internal/log"
	"github.com/verita-ai/verita/internal/session"
)

type fakeMedia struct {
	userID    string
	sessionID string
	messageID string
	data      []byte
	mimeType  string
	objects   []session.MediaObject
}

func (m *fakeMedia) UploadMedia(_ context.Context, userID, sessionID string, data []byte, mimeType string) (string, error) {
	m.userID = userID
	m.sessionID = sessionID
	m.data = data
	m.mimeType = mimeType
	return "gs://bucket/users/" + userID + "/chats/" + sessionID + "/obj.pdf", nil
}

func (m *fakeMedia) ListUploadedMedia(_ context.Context, userID, sessionID, messageID string) ([]session.MediaObject, error) {
	m.userID = userID
	m.sessionID = sessionID
	m.messageID = messageID
	return m.objects, nil
}

func mediaMux(store MediaStore) *http.ServeMux {
	mux := http.NewServeMux()
	NewMediaHandler(store, log.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestHandleUpload(t *testing.T) {
	t.Parallel()

	store := &fakeMedia{}
	req := httptest.NewRequest(http.MethodPost, "/api/users/u1/chats/s1/media", strings.NewReader("%PDF-1.7"))
	req.Header.Set("Content-Type", "application/pdf")
	rec := httptest.NewRecorder()
	mediaMux(store).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "u1", store.userID)
	assert.Equal(t, "s1", store.sessionID)
	assert.Equal(t, "application/pdf", store.mimeType)
	assert.Equal(t, []byte("%PDF-1.7"), store.data)

	var out MediaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Contains(t, out.URI, "gs://")
}

func TestHandleUploadValidation(t *testing.T) {
	t.Parallel()

	t.Run("missing content type", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, "/api/users/u1/chats/s1/media", strings.NewReader("x"))
		rec := httptest.NewRecorder()
		mediaMux(&fakeMedia{}).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty body", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, "/api/users/u1/chats/s1/media", nil)
		req.Header.Set("Content-Type", "image/png")
		rec := httptest.NewRecorder()
		mediaMux(&fakeMedia{}).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleList(t *testing.T) {
	t.Parallel()

	store := &fakeMedia{objects: []session.MediaObject{
		{Name: "a.png", MIME: "image/png", Size: 512, URI: "gs://bucket/users/u1/chats/s1/uploadedMedia/m1/a.png"},
		{Name: "b.pdf", MIME: "application/pdf", Size: 2048, URI: "gs://bucket/users/u1/chats/s1/uploadedMedia/m1/b.pdf"},
	}}
	req := httptest.NewRequest(http.MethodGet, "/api/users/u1/chats/s1/messages/m1/media", nil)
	rec := httptest.NewRecorder()
	mediaMux(store).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", store.userID)
	assert.Equal(t, "s1", store.sessionID)
	assert.Equal(t, "m1", store.messageID)

	var out MediaListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Files, 2)
	assert.Equal(t, MediaFile{
		FileName:     "a.png",
		FileMimeType: "image/png",
		FileSize:     512,
		GcsPath:      "gs://bucket/users/u1/chats/s1/uploadedMedia/m1/a.png",
	}, out.Files[0])
}
