// Package metadata stores the off-chain documents blueprint and collection
// paths point at. Documents are content addressed: the key is derived from
// the SHA-256 digest of the canonical JSON encoding, so a stored document is
// immutable and a path can be verified against its content.
package metadata

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"packcore/internal/blob"
	blobfs "packcore/internal/infra/blob/fs"
	blobmem "packcore/internal/infra/blob/memory"
	blobs3 "packcore/internal/infra/blob/s3"
)

const keyPrefix = "meta/"

// Document is the renderable description attached to a blueprint or
// collection.
type Document struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Image        string `json:"image,omitempty"`
	AnimationURL string `json:"animation_url,omitempty"`
}

// Store persists documents in a blob backend.
type Store struct {
	blobs blob.Store
}

// NewStore wraps a blob backend.
func NewStore(blobs blob.Store) *Store {
	return &Store{blobs: blobs}
}

// Open selects a blob backend from environment variables and wraps it.
//
//	PACKCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	PACKCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	(S3 specific variables documented in the s3 package)
func Open(ctx context.Context) (*Store, error) {
	driver := os.Getenv("PACKCORE_BLOB_DRIVER")
	if driver == "" {
		driver = string(blob.DriverFilesystem)
	}
	var (
		backend blob.Store
		err     error
	)
	switch blob.Driver(driver) {
	case blob.DriverFilesystem:
		backend, err = blobfs.New(os.Getenv("PACKCORE_BLOB_FS_ROOT"))
	case blob.DriverS3:
		backend, err = blobs3.OpenFromEnv(ctx)
	case blob.DriverMemory:
		backend = blobmem.New()
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
	if err != nil {
		return nil, err
	}
	return NewStore(backend), nil
}

// Driver reports the underlying blob backend.
func (s *Store) Driver() blob.Driver { return s.blobs.Driver() }

// Put stores a document and returns its content-addressed path. Storing the
// same document twice returns the same path without error.
func (s *Store) Put(ctx context.Context, doc Document) (string, error) {
	if strings.TrimSpace(doc.Name) == "" {
		return "", fmt.Errorf("document name required")
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(encoded)
	key := keyPrefix + hex.EncodeToString(digest[:]) + ".json"
	if _, err := s.blobs.Head(ctx, key); err == nil {
		return key, nil
	}
	_, err = s.blobs.Put(ctx, key, bytes.NewReader(encoded), blob.PutOptions{ContentType: "application/json"})
	if err != nil {
		return "", err
	}
	return key, nil
}

// Get loads the document at a path.
func (s *Store) Get(ctx context.Context, path string) (Document, error) {
	_, rc, err := s.blobs.Get(ctx, path)
	if err != nil {
		return Document{}, err
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// ResolveURL returns a fetchable URL for the document at a path. Backends
// without presign support fall back to any stored URL.
func (s *Store) ResolveURL(ctx context.Context, path string) (string, error) {
	u, err := s.blobs.PresignURL(ctx, path, blob.SignedURLOptions{Method: "GET"})
	if err == nil {
		return u, nil
	}
	info, herr := s.blobs.Head(ctx, path)
	if herr != nil {
		return "", herr
	}
	if info.URL != "" {
		return info.URL, nil
	}
	return "", err
}

// List enumerates stored documents.
func (s *Store) List(ctx context.Context) ([]blob.Info, error) {
	return s.blobs.List(ctx, keyPrefix)
}
