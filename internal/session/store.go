// Package session persists conversation transcripts and uploaded media in
// Cloud Storage. Transcripts are stored as JSON, one object per session,
// keyed by user and session identifier. The bucket also carries the
// shared prompt files remote configuration refers to.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/genai"

	"github.com/verita-ai/verita/internal/log"
)

// Config contains all required parameters for a Store.
type Config struct {
	Bucket string
	Client *storage.Client
	Logger log.Logger
}

func (cfg Config) validate() error {
	if cfg.Bucket == "" {
		return errors.New("bucket is required")
	}
	if cfg.Client == nil {
		return errors.New("storage client is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Store reads and writes session state under a single bucket.
type Store struct {
	bucket *storage.BucketHandle
	name   string
	logger log.Logger
}

// New creates a Store with the given configuration.
func New(cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Store{
		bucket: cfg.Client.Bucket(cfg.Bucket),
		name:   cfg.Bucket,
		logger: cfg.Logger,
	}, nil
}

// Open dials Cloud Storage and returns a Store over the named bucket.
// Options pass through to the storage client, credentials included.
func Open(ctx context.Context, bucket string, logger log.Logger, opts ...option.ClientOption) (*Store, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return New(Config{Bucket: bucket, Client: client, Logger: logger})
}

// Load returns the stored transcript for the session, or nil when the
// session has no stored history yet.
func (s *Store) Load(ctx context.Context, userID, sessionID string) ([]*genai.Content, error) {
	object := historyObjectPath(userID, sessionID)

	r, err := s.bucket.Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening history object %s: %w", object, err)
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading history object %s: %w", object, err)
	}

	var turns []*genai.Content
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, fmt.Errorf("decoding history object %s: %w", object, err)
	}
	return turns, nil
}

// Save overwrites the stored transcript for the session.
func (s *Store) Save(ctx context.Context, userID, sessionID string, turns []*genai.Content) error {
	object := historyObjectPath(userID, sessionID)

	raw, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}

	w := s.bucket.Object(object).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("writing history object %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("committing history object %s: %w", object, err)
	}

	s.logger.Debug("saved session history", "object", object, "turns", len(turns))
	return nil
}

// MediaObject describes one uploaded attachment.
type MediaObject struct {
	Name string
	MIME string
	Size int64
	URI  string
}

// UploadMedia stores an attachment under the session's chat prefix and
// returns its gs:// URI, the form the generative models accept directly.
func (s *Store) UploadMedia(ctx context.Context, userID, sessionID string, data []byte, mimeType string) (string, error) {
	ext, err := mediaExtension(mimeType)
	if err != nil {
		return "", err
	}
	object := path.Join(chatPrefix(userID, sessionID), uuid.NewString()+ext)

	w := s.bucket.Object(object).NewWriter(ctx)
	w.ContentType = mimeType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("writing media object %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("committing media object %s: %w", object, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", s.name, object)
	s.logger.Debug("uploaded media", "uri", uri, "mime", mimeType, "bytes", len(data))
	return uri, nil
}

// ListUploadedMedia returns every attachment a client attached to one
// message of the session.
func (s *Store) ListUploadedMedia(ctx context.Context, userID, sessionID, messageID string) ([]MediaObject, error) {
	prefix := uploadedMediaPrefix(userID, sessionID, messageID)
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})

	var objects []MediaObject
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return objects, nil
		}
		if err != nil {
			return nil, fmt.Errorf("listing media under %s: %w", prefix, err)
		}
		objects = append(objects, MediaObject{
			Name: path.Base(attrs.Name),
			MIME: attrs.ContentType,
			Size: attrs.Size,
			URI:  fmt.Sprintf("gs://%s/%s", s.name, attrs.Name),
		})
	}
}

// PromptFile returns the contents of a shared prompt object.
func (s *Store) PromptFile(ctx context.Context, name string) (string, error) {
	object := path.Join("shared", "prompts", name)

	r, err := s.bucket.Object(object).NewReader(ctx)
	if err != nil {
		return "", fmt.Errorf("opening prompt object %s: %w", object, err)
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading prompt object %s: %w", object, err)
	}
	return string(raw), nil
}

func historyObjectPath(userID, sessionID string) string {
	return path.Join("users", userID, "chats", sessionID+".json")
}

func chatPrefix(userID, sessionID string) string {
	return path.Join("users", userID, "chats", sessionID)
}

// uploadedMediaPrefix is where clients park attachments for one message
// before the chat request referencing them arrives.
func uploadedMediaPrefix(userID, sessionID, messageID string) string {
	return chatPrefix(userID, sessionID) + "/uploadedMedia/" + messageID + "/"
}

// mediaExtension maps a MIME type to a file extension, preferring the
// conventional one when the platform registry offers several.
func mediaExtension(mimeType string) (string, error) {
	switch mimeType {
	case "image/jpeg":
		return ".jpg", nil
	case "application/pdf":
		return ".pdf", nil
	case "image/png":
		return ".png", nil
	}
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return "", fmt.Errorf("unsupported media type %s", mimeType)
	}
	return exts[0], nil
}
