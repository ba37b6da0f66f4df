// Package storage uploads listing images to a Supabase Storage bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	storagego "github.com/supabase-community/storage-go"

	"github.com/vindennt/gus-marketplace/internal/models"
)

const objectPrefix = "listings/"

type Bucket struct {
	baseURL string
	name    string
	client  *storagego.Client
	newID   func() string
}

type Option func(*Bucket)

// NewBucket needs the project URL and a key allowed to write to the bucket
func NewBucket(supabaseURL, name, key string, opts ...Option) *Bucket {
	baseURL := strings.TrimRight(supabaseURL, "/") + "/storage/v1"
	b := &Bucket{
		baseURL: baseURL,
		name:    name,
		client:  storagego.NewClient(baseURL, key, map[string]string{"apikey": key}),
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ObjectPath names a new object as listings/<uuid><ext>
func (b *Bucket) ObjectPath(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return objectPrefix + b.newID() + ext
}

func (b *Bucket) PublicURL(path string) string {
	return b.client.GetPublicUrl(b.name, path).SignedURL
}

// Upload stores the image under a fresh name and returns its public URL
func (b *Bucket) Upload(ctx context.Context, image *models.Image) (string, error) {
	if image == nil || len(image.Data) == 0 {
		return "", errors.New("storage: empty image")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := b.ObjectPath(filepath.Ext(image.Filename))
	ct := image.ContentType
	if ct == "" {
		ct = http.DetectContentType(image.Data)
	}
	upsert := false

	_, err := b.client.UploadFile(b.name, path, bytes.NewReader(image.Data), storagego.FileOptions{
		ContentType: &ct,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	return b.PublicURL(path), nil
}

// Remove deletes an object previously returned by Upload. URLs outside this
// bucket are ignored
func (b *Bucket) Remove(ctx context.Context, publicURL string) error {
	path, ok := strings.CutPrefix(publicURL, b.PublicURL(""))
	if !ok || path == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := b.client.RemoveFile(b.name, []string{path}); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// SignedUploadURL reserves an object name and returns a URL the client can PUT
// the bytes to, together with the public URL the object will have
func (b *Bucket) SignedUploadURL(ctx context.Context, ext string) (*models.UploadURL, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := b.ObjectPath(ext)

	res, err := b.client.CreateSignedUploadUrl(b.name, path)
	if err != nil {
		return nil, fmt.Errorf("sign upload %s: %w", path, err)
	}
	if res.Url == "" {
		return nil, errors.New("storage: signed upload response has no url")
	}

	// The API answers with a path relative to the storage root
	uploadURL := res.Url
	if strings.HasPrefix(uploadURL, "/") {
		uploadURL = b.baseURL + uploadURL
	}

	return &models.UploadURL{
		UploadURL: uploadURL,
		FileURL:   b.PublicURL(path),
	}, nil
}
