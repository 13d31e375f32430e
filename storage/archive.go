package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"authrax/pkg/authrax"
	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"
)

// Archive keeps raw payloads as objects in Cloud Storage, or as files under a
// local directory in development mode.
type Archive struct {
	client    *storage.Client
	logger    *slog.Logger
	bucket    string
	localPath string
}

// NewArchive creates an archive. localPath takes precedence over the bucket.
func NewArchive(client *storage.Client, bucket, localPath string, logger *slog.Logger) *Archive {
	return &Archive{
		client:    client,
		logger:    logger,
		bucket:    bucket,
		localPath: localPath,
	}
}

// validKey rejects keys that could escape the archive root.
func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

// Put stores data under key.
func (a *Archive) Put(ctx context.Context, key string, data []byte) error {
	if !validKey(key) {
		return authrax.Errorf(authrax.InvalidArgument, "archive.put", "invalid key %q", key)
	}

	if a.localPath != "" {
		filePath := filepath.Join(a.localPath, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
			return fmt.Errorf("create local archive directory: %w", err)
		}
		if err := os.WriteFile(filePath, data, 0o600); err != nil {
			return fmt.Errorf("write to local archive: %w", err)
		}
		a.logger.Info("Payload archived to local storage", "path", filePath, "bytes", len(data))
		return nil
	}

	err := retry.Do(
		func() error {
			w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					a.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retryOptions(a.logger, "archive_put", retry.Context(ctx))...,
	)
	if err != nil {
		return fmt.Errorf("archive after retries: %w", err)
	}

	a.logger.Info("Payload archived", "bucket", a.bucket, "key", key, "bytes", len(data))
	return nil
}

// Get loads the object stored under key.
func (a *Archive) Get(ctx context.Context, key string) ([]byte, error) {
	if !validKey(key) {
		return nil, authrax.Errorf(authrax.InvalidArgument, "archive.get", "invalid key %q", key)
	}

	if a.localPath != "" {
		data, err := os.ReadFile(filepath.Join(a.localPath, filepath.FromSlash(key)))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, notFound("archive.get", key)
			}
			return nil, fmt.Errorf("read from local archive: %w", err)
		}
		return data, nil
	}

	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := a.client.Bucket(a.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(notFound("archive.get", key))
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					a.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retryOptions(a.logger, "archive_get", retry.Context(ctx))...,
	)
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

// List returns the keys under prefix in lexical order.
func (a *Archive) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	if a.localPath != "" {
		root := filepath.Join(a.localPath, filepath.FromSlash(prefix))
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return fs.SkipAll
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(a.localPath, path)
			if err != nil {
				return err
			}
			keys = append(keys, filepath.ToSlash(rel))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk local archive: %w", err)
		}
		sort.Strings(keys)
		return keys, nil
	}

	it := a.client.Bucket(a.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		keys = append(keys, attrs.Name)
	}
	sort.Strings(keys)
	return keys, nil
}
