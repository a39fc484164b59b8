// Package filesystem provides a local object store backend. Multipart
// sessions are staged in a hidden directory and assembled with atomic
// temp-file-and-rename writes; etags are hex SHA256 of the content.
package filesystem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/partflow/partflow"
)

// stagingDir holds in-flight multipart sessions, one subdirectory per
// session. The leading dot keeps it out of the valid key space.
const stagingDir = ".multipart"

// Store implements partflow.ObjectStore on a sandboxed directory tree.
type Store struct {
	root    *os.Root
	signer  *partflow.Signer
	baseURL string
}

// Option configures a Store.
type Option func(*Store)

// WithPresigner enables PresignGet/PresignPut. URLs are issued against
// baseURL and signed with the given signer; the server at baseURL is
// expected to verify them.
func WithPresigner(signer *partflow.Signer, baseURL string) Option {
	return func(s *Store) {
		s.signer = signer
		s.baseURL = baseURL
	}
}

// NewStore creates a Store rooted at the given directory. The root
// provides sandboxed file operations preventing path traversal.
func NewStore(root *os.Root, opts ...Option) *Store {
	s := &Store{root: root}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sessionDir(uploadID string) string {
	return path.Join(stagingDir, uploadID)
}

func partFile(uploadID string, index int) string {
	return path.Join(sessionDir(uploadID), fmt.Sprintf("part.%d", index))
}

// CreateMultipart opens a staging directory for a new session and
// returns its id. The key and content type are not needed until
// assembly; both travel with every later call.
func (s *Store) CreateMultipart(ctx context.Context, key, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	uploadID := uuid.NewString()
	if err := s.root.MkdirAll(sessionDir(uploadID), 0o755); err != nil {
		return "", fmt.Errorf("create multipart: %w", err)
	}

	return uploadID, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// PutPart writes one part into the session's staging directory using a
// temp file and rename, so a re-upload of the same index can never be
// observed half-written. Returns the part's SHA256 etag.
func (s *Store) PutPart(ctx context.Context, key, uploadID string, index int, content io.Reader, size int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if _, err := s.root.Stat(sessionDir(uploadID)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("put part: session %s: %w", uploadID, partflow.ErrNotFound)
		}
		return "", fmt.Errorf("put part: %w", err)
	}

	etag, err := s.writeAtomic(ctx, partFile(uploadID, index), content)
	if err != nil {
		return "", fmt.Errorf("put part %d: %w", index, err)
	}

	return etag, nil
}

// CompleteMultipart concatenates the staged parts in token order into
// the object at key, verifies each part against its token, and removes
// the session. Returns the SHA256 etag of the assembled object.
func (s *Store) CompleteMultipart(ctx context.Context, key, uploadID string, parts []partflow.PartToken) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if _, err := s.root.Stat(sessionDir(uploadID)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("complete multipart: session %s: %w", uploadID, partflow.ErrNotFound)
		}
		return "", fmt.Errorf("complete multipart: %w", err)
	}

	readers := make([]io.Reader, 0, len(parts))
	closers := make([]io.Closer, 0, len(parts))
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				slog.Warn("failed to close part file", "err", err)
			}
		}
	}()

	for _, p := range parts {
		f, err := s.root.Open(partFile(uploadID, p.Index))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("complete multipart: part %d: %w", p.Index, partflow.ErrNotFound)
			}
			return "", fmt.Errorf("complete multipart: part %d: %w", p.Index, err)
		}
		closers = append(closers, f)

		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return "", fmt.Errorf("complete multipart: hash part %d: %w", p.Index, err)
		}
		if hex.EncodeToString(h.Sum(nil)) != p.Token {
			return "", fmt.Errorf("complete multipart: part %d does not match its token: %w", p.Index, partflow.ErrPartConflict)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return "", fmt.Errorf("complete multipart: rewind part %d: %w", p.Index, err)
		}

		readers = append(readers, f)
	}

	etag, err := s.writeAtomic(ctx, key, io.MultiReader(readers...))
	if err != nil {
		return "", fmt.Errorf("complete multipart: %w", err)
	}

	if err := s.root.RemoveAll(sessionDir(uploadID)); err != nil {
		slog.Warn("failed to remove multipart staging dir", "upload_id", uploadID, "err", err)
	}

	return etag, nil
}

// AbortMultipart removes the session's staging directory and any staged
// parts. Aborting an unknown session is a no-op.
func (s *Store) AbortMultipart(ctx context.Context, key, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.root.RemoveAll(sessionDir(uploadID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("abort multipart: %w", err)
	}
	return nil
}

// Head probes for an object. Returns partflow.ErrNotFound if the key
// does not exist. The etag is recomputed from the content.
func (s *Store) Head(ctx context.Context, key string) (partflow.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return partflow.ObjectInfo{}, err
	}

	info, err := s.root.Stat(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return partflow.ObjectInfo{}, partflow.ErrNotFound
		}
		return partflow.ObjectInfo{}, fmt.Errorf("head: %w", err)
	}
	if info.IsDir() {
		return partflow.ObjectInfo{}, partflow.ErrNotFound
	}

	f, err := s.root.Open(key)
	if err != nil {
		return partflow.ObjectInfo{}, fmt.Errorf("head: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Warn("failed to close file", "key", key, "err", closeErr)
		}
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return partflow.ObjectInfo{}, fmt.Errorf("head: hash: %w", err)
	}

	return partflow.ObjectInfo{
		Key:  key,
		Size: info.Size(),
		ETag: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// PresignGet returns a time-limited URL granting GET on the key.
func (s *Store) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return s.presign(ctx, "GET", key, expiry)
}

// PresignPut returns a time-limited URL granting PUT on the key.
func (s *Store) PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return s.presign(ctx, "PUT", key, expiry)
}

func (s *Store) presign(ctx context.Context, method, key string, expiry time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.signer == nil {
		return "", errors.New("presign: store has no presigner configured")
	}

	u, err := url.JoinPath(s.baseURL, key)
	if err != nil {
		return "", fmt.Errorf("presign: %w", err)
	}

	return s.signer.Presign(method, u, expiry)
}

// writeAtomic writes content to path via a temp file and rename,
// creating intermediate directories as needed, and returns the SHA256
// etag of what was written.
func (s *Store) writeAtomic(ctx context.Context, dest string, content io.Reader) (string, error) {
	tmpFile := tmpFileName()
	t, createErr := s.root.Create(tmpFile)
	if createErr != nil {
		return "", fmt.Errorf("could not open temp file: %w", createErr)
	}

	success := false
	defer func() {
		if closeErr := t.Close(); closeErr != nil {
			slog.Warn("failed to close tmp file", "err", closeErr)
		}
		if !success {
			if rmErr := s.root.Remove(t.Name()); rmErr != nil {
				slog.Warn("failed to remove tmp file", "err", rmErr)
			}
		}
	}()

	h := sha256.New()
	w := io.MultiWriter(h, t)

	if _, err := io.Copy(w, &ctxReader{ctx: ctx, r: content}); err != nil {
		return "", fmt.Errorf("could not copy file contents: %w", err)
	}

	if err := t.Sync(); err != nil {
		return "", fmt.Errorf("could not sync written file: %w", err)
	}

	destDir := filepath.Dir(dest)
	if destDir != "." {
		if err := s.root.MkdirAll(destDir, 0o755); err != nil {
			return "", fmt.Errorf("could not create intermediate directories: %w", err)
		}
	}

	if renameErr := s.root.Rename(tmpFile, dest); renameErr != nil {
		return "", fmt.Errorf("failed to rename file: %w", renameErr)
	}

	success = true
	return hex.EncodeToString(h.Sum(nil)), nil
}

func tmpFileName() string {
	return fmt.Sprintf(".t%s", uuid.New().String())
}
