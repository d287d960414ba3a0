package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verita-ai/verita/internal/log"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	err := Config{Logger: log.NewNop()}.validate()
	assert.Error(t, err, "bucket and client are required")

	err = Config{Bucket: "b"}.validate()
	assert.Error(t, err, "client and logger are required")
}

func TestHistoryObjectPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "users/u1/chats/s-42.json", historyObjectPath("u1", "s-42"))
}

func TestChatPrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "users/u1/chats/s-42", chatPrefix("u1", "s-42"))
}

func TestUploadedMediaPrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"users/u1/chats/s-42/uploadedMedia/m-7/",
		uploadedMediaPrefix("u1", "s-42", "m-7"))
}

func TestMediaExtension(t *testing.T) {
	t.Parallel()

	for mime, want := range map[string]string{
		"image/jpeg":      ".jpg",
		"image/png":       ".png",
		"application/pdf": ".pdf",
	} {
		got, err := mediaExtension(mime)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := mediaExtension("application/x-no-such-type")
	assert.ErrorContains(t, err, "unsupported media type")
}
