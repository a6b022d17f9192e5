package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds the object storage connection settings
type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	Bucket        string
	PublicBaseURL string
}

// Object describes an upload
type Object struct {
	ChatID      string
	MessageID   string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Stored is the result of a successful upload
type Stored struct {
	Key string
	URL string
}

// Storage uploads chat media to a MinIO/S3 bucket
type Storage struct {
	cfg    Config
	client *minio.Client
}

// New creates a storage client. The bucket is not touched until EnsureBucket.
func New(cfg Config) (*Storage, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
	cl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: create client: %w", err)
	}
	return &Storage{cfg: cfg, client: cl}, nil
}

// EnsureBucket creates the bucket if it is missing
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		return s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// Upload stores obj under chats/<chat>/<message>/<random><ext> and returns
// its key and public URL.
func (s *Storage) Upload(ctx context.Context, obj Object) (Stored, error) {
	key := ObjectKey(obj.ChatID, obj.MessageID, obj.FileName)
	size := obj.Size
	if size <= 0 {
		size = -1
	}
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, obj.Body, size, minio.PutObjectOptions{
		ContentType: obj.ContentType,
	})
	if err != nil {
		return Stored{}, fmt.Errorf("blobstore: put %s: %w", key, err)
	}
	return Stored{Key: key, URL: s.URL(key)}, nil
}

// Remove deletes the object under key. Missing objects are not an error.
func (s *Storage) Remove(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{})
}

// PresignGet returns a temporary download link
func (s *Storage) PresignGet(ctx context.Context, key string, ttl time.Duration) (*url.URL, error) {
	return s.client.PresignedGetObject(ctx, s.cfg.Bucket, key, ttl, nil)
}

// URL builds the public URL of key
func (s *Storage) URL(key string) string {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if s.cfg.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, strings.TrimRight(s.cfg.Endpoint, "/"), s.cfg.Bucket)
	}
	return base + "/" + key
}

// ObjectKey derives the object key of a chat media upload
func ObjectKey(chatID, messageID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	return path.Join("chats", chatID, messageID, uuid.NewString()+ext)
}
