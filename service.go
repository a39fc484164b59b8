package partflow

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// TransferRepo defines the interface for durable transfer and part
// metadata. Implementations must handle concurrent access safely: the
// pending->stored transition of a part must be atomic, and status
// transitions must be compare-and-swap so racing callers cannot revive
// a terminal transfer.
//
// All methods accept a context for cancellation and timeout control.
type TransferRepo interface {
	// CreateTransfer persists a new transfer and returns it with
	// repository-assigned timestamps.
	CreateTransfer(ctx context.Context, t Transfer) (Transfer, error)

	// GetTransfer retrieves a transfer by id. Returns ErrNotFound if it
	// does not exist.
	GetTransfer(ctx context.Context, id uuid.UUID) (Transfer, error)

	// TransitionTransfer atomically moves a transfer from one of the
	// given statuses to the target status. Returns false (and no error)
	// when the transfer was not in any of the from statuses.
	TransitionTransfer(ctx context.Context, id uuid.UUID, from []TransferStatus, to TransferStatus) (bool, error)

	// StagePart upserts a part record in pending state. A later
	// StagePart for the same index overwrites the checksum; the last
	// writer wins.
	StagePart(ctx context.Context, rec PartRecord) (PartRecord, error)

	// MarkPartStored atomically flips a part from pending to stored,
	// recording the storage token, but only when the staged checksum
	// still matches. Returns ErrNotFound when no such pending record
	// matches, which signals a lost same-index race.
	MarkPartStored(ctx context.Context, transferID uuid.UUID, index int, checksum, token string) (PartRecord, error)

	// GetPart retrieves one part record. Returns ErrNotFound if absent.
	GetPart(ctx context.Context, transferID uuid.UUID, index int) (PartRecord, error)

	// ListParts returns all part records of a transfer ordered by index.
	ListParts(ctx context.Context, transferID uuid.UUID) ([]PartRecord, error)

	// DeleteParts removes all part records of a transfer.
	DeleteParts(ctx context.Context, transferID uuid.UUID) error

	// ListStale returns a page of open (initiated or in_progress)
	// transfers created before the given time, ordered by (created_at, id).
	ListStale(ctx context.Context, before time.Time, limit int, cursor string) (TransferPage, error)
}

// ObjectStore defines the capability set the coordinator needs from an
// object storage backend: multipart session management, per-part upload
// returning an opaque token, existence probes, and presigned URL
// generation. Implementations map vendor errors to the package
// sentinels (ErrNotFound, ErrStoreUnavailable).
type ObjectStore interface {
	// CreateMultipart opens a multipart session for the key and returns
	// the session id.
	CreateMultipart(ctx context.Context, key, contentType string) (string, error)

	// PutPart uploads one part within a session and returns the opaque
	// token (etag) the store assigned to it.
	PutPart(ctx context.Context, key, uploadID string, index int, content io.Reader, size int64) (string, error)

	// CompleteMultipart assembles the uploaded parts into a single
	// object and returns its etag. The token set must be complete and
	// ordered by index.
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []PartToken) (string, error)

	// AbortMultipart releases a session and any parts it holds.
	// Aborting an unknown session is not an error.
	AbortMultipart(ctx context.Context, key, uploadID string) error

	// Head probes for an object without reading it. Returns ErrNotFound
	// if the key does not exist.
	Head(ctx context.Context, key string) (ObjectInfo, error)

	// PresignGet returns a time-limited URL granting GET on the key.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)

	// PresignPut returns a time-limited URL granting PUT on the key.
	PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error)
}

const (
	// DefaultMaxPartSize bounds the byte size of a single part accepted
	// by UploadPart.
	DefaultMaxPartSize = 64 << 20 // 64 MiB
	// DefaultMaxExpiry is the longest lifetime of an issued signed URL.
	DefaultMaxExpiry = 7 * 24 * time.Hour
	// DefaultSweepAfter is how long an open transfer may sit idle before
	// Sweep aborts it.
	DefaultSweepAfter = 24 * time.Hour
)

// CoordinatorConfig holds tuning knobs for the Coordinator. Zero values
// fall back to the defaults above.
type CoordinatorConfig struct {
	MaxPartSize    int64
	MaxExpiry      time.Duration
	SweepAfter     time.Duration
	CleanupTimeout time.Duration // Timeout for best-effort cleanup calls (default: 30s)

	// RetryInitialInterval and RetryMaxElapsed bound the exponential
	// backoff applied to transient store failures on idempotent calls.
	RetryInitialInterval time.Duration
	RetryMaxElapsed      time.Duration

	// Clock overrides the time source; tests inject a fake here.
	Clock func() time.Time
}

// Coordinator drives a file's journey from declared to durably stored
// as one object, tolerating interruption at any point. All durable
// state lives in the TransferRepo and the ObjectStore, so a Coordinator
// is stateless between calls and safe to run behind any invocation
// model.
type Coordinator struct {
	repo           TransferRepo
	store          ObjectStore
	maxPartSize    int64
	maxExpiry      time.Duration
	sweepAfter     time.Duration
	cleanupTimeout time.Duration
	retryInitial   time.Duration
	retryElapsed   time.Duration
	now            func() time.Time
}

func NewCoordinator(repo TransferRepo, store ObjectStore, cfg CoordinatorConfig) (*Coordinator, error) {
	if repo == nil || store == nil {
		return nil, errors.New("new coordinator: repo and store are required")
	}

	c := &Coordinator{
		repo:           repo,
		store:          store,
		maxPartSize:    cfg.MaxPartSize,
		maxExpiry:      cfg.MaxExpiry,
		sweepAfter:     cfg.SweepAfter,
		cleanupTimeout: cfg.CleanupTimeout,
		retryInitial:   cfg.RetryInitialInterval,
		retryElapsed:   cfg.RetryMaxElapsed,
		now:            cfg.Clock,
	}
	if c.maxPartSize <= 0 {
		c.maxPartSize = DefaultMaxPartSize
	}
	if c.maxExpiry <= 0 {
		c.maxExpiry = DefaultMaxExpiry
	}
	if c.sweepAfter <= 0 {
		c.sweepAfter = DefaultSweepAfter
	}
	if c.cleanupTimeout <= 0 {
		c.cleanupTimeout = 30 * time.Second
	}
	if c.retryInitial <= 0 {
		c.retryInitial = 200 * time.Millisecond
	}
	if c.retryElapsed <= 0 {
		c.retryElapsed = 10 * time.Second
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// retryTransient runs op, retrying with bounded exponential backoff as
// long as it fails with ErrStoreUnavailable. Any other error is
// permanent and surfaced immediately. Only idempotent operations may be
// passed here.
func (c *Coordinator) retryTransient(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInitial
	bo.MaxElapsedTime = c.retryElapsed

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

// Begin validates the declared sizes, opens an object-store multipart
// session, and persists a transfer in initiated state.
//
// The session creation is not retried: a retry after an ambiguous
// failure could leak a second session on the store side, so transient
// errors surface to the caller instead.
func (c *Coordinator) Begin(ctx context.Context, principal string, req BeginTransfer) (Transfer, error) {
	if err := ctx.Err(); err != nil {
		return Transfer{}, fmt.Errorf("begin transfer: %w", err)
	}

	if req.FileSize <= 0 || req.PartSize <= 0 {
		return Transfer{}, fmt.Errorf("begin transfer: file size %d, part size %d: %w", req.FileSize, req.PartSize, ErrInvalidSize)
	}
	if req.PartSize > c.maxPartSize {
		return Transfer{}, fmt.Errorf("begin transfer: part size %d exceeds maximum %d: %w", req.PartSize, c.maxPartSize, ErrInvalidSize)
	}
	if !IsValidKey(req.TargetKey) {
		return Transfer{}, fmt.Errorf("begin transfer: key %q: %w", req.TargetKey, ErrInvalidInput)
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	uploadID, err := c.store.CreateMultipart(ctx, req.TargetKey, contentType)
	if err != nil {
		return Transfer{}, fmt.Errorf("begin transfer %s: create session: %w", req.TargetKey, err)
	}

	t := Transfer{
		ID:          uuid.New(),
		TargetKey:   req.TargetKey,
		ContentType: contentType,
		Principal:   principal,
		UploadID:    uploadID,
		FileSize:    req.FileSize,
		PartSize:    req.PartSize,
		PartCount:   ExpectedPartCount(req.FileSize, req.PartSize),
		Status:      TransferInitiated,
	}

	created, err := c.repo.CreateTransfer(ctx, t)
	if err != nil {
		// The session would otherwise leak; release it with a fresh
		// context since the caller's may already be cancelled.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), c.cleanupTimeout)
		defer cancel()
		if abortErr := c.store.AbortMultipart(cleanupCtx, req.TargetKey, uploadID); abortErr != nil {
			slog.Warn("failed to release orphaned multipart session", "key", req.TargetKey, "err", abortErr)
		}
		return Transfer{}, fmt.Errorf("begin transfer %s: %w", req.TargetKey, err)
	}

	return created, nil
}

// UploadPart stores one chunk of a transfer. The content is buffered,
// verified against the declared checksum, uploaded to the object store,
// and the part record is atomically flipped from pending to stored once
// the store acknowledges it.
//
// Re-uploading an index with the same checksum is idempotent; a
// different checksum against an already stored part fails with
// ErrPartConflict and leaves the stored record intact.
func (c *Coordinator) UploadPart(ctx context.Context, transferID uuid.UUID, index int, checksum string, content io.Reader) (PartRecord, error) {
	if err := ctx.Err(); err != nil {
		return PartRecord{}, fmt.Errorf("upload part: %w", err)
	}

	if checksum == "" {
		return PartRecord{}, fmt.Errorf("upload part: checksum cannot be empty: %w", ErrInvalidInput)
	}

	t, err := c.repo.GetTransfer(ctx, transferID)
	if err != nil {
		return PartRecord{}, fmt.Errorf("upload part: %w", err)
	}
	if t.Status.IsTerminal() {
		return PartRecord{}, fmt.Errorf("upload part: transfer %s is %s: %w", transferID, t.Status, ErrNotFound)
	}

	if index < 1 || index > t.PartCount {
		return PartRecord{}, fmt.Errorf("upload part: index %d out of range 1..%d: %w", index, t.PartCount, ErrInvalidInput)
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return PartRecord{}, fmt.Errorf("upload part %d: read content: %w", index, err)
	}

	size := int64(len(data))
	if index < t.PartCount && size != t.PartSize {
		return PartRecord{}, fmt.Errorf("upload part %d: got %d bytes, part size is %d: %w", index, size, t.PartSize, ErrInvalidSize)
	}
	if index == t.PartCount && (size <= 0 || size > t.PartSize) {
		return PartRecord{}, fmt.Errorf("upload part %d: final part of %d bytes exceeds part size %d: %w", index, size, t.PartSize, ErrInvalidSize)
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != checksum {
		return PartRecord{}, fmt.Errorf("upload part %d: content does not match declared checksum: %w", index, ErrInvalidInput)
	}

	existing, err := c.repo.GetPart(ctx, transferID, index)
	switch {
	case err == nil:
		if existing.Status == PartStored && existing.Checksum != checksum {
			return PartRecord{}, fmt.Errorf("upload part %d: stored checksum %s differs: %w", index, existing.Checksum, ErrPartConflict)
		}
	case errors.Is(err, ErrNotFound):
		// First upload of this index.
	default:
		return PartRecord{}, fmt.Errorf("upload part %d: %w", index, err)
	}

	start, end, _ := PartRange(t.FileSize, t.PartSize, index)
	staged := PartRecord{
		TransferID: transferID,
		Index:      index,
		RangeStart: start,
		RangeEnd:   end,
		Size:       size,
		Checksum:   checksum,
		Status:     PartPending,
	}
	if _, err := c.repo.StagePart(ctx, staged); err != nil {
		return PartRecord{}, fmt.Errorf("upload part %d: stage: %w", index, err)
	}

	var token string
	err = c.retryTransient(ctx, func() error {
		var putErr error
		token, putErr = c.store.PutPart(ctx, t.TargetKey, t.UploadID, index, bytes.NewReader(data), size)
		return putErr
	})
	if err != nil {
		return PartRecord{}, fmt.Errorf("upload part %d: %w", index, err)
	}

	stored, err := c.repo.MarkPartStored(ctx, transferID, index, checksum, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// A concurrent re-upload of the same index overwrote the
			// staged checksum after we read it; that writer wins.
			return PartRecord{}, fmt.Errorf("upload part %d: lost race to concurrent re-upload: %w", index, ErrPartConflict)
		}
		return PartRecord{}, fmt.Errorf("upload part %d: %w", index, err)
	}

	if t.Status == TransferInitiated {
		if _, err := c.repo.TransitionTransfer(ctx, transferID, []TransferStatus{TransferInitiated}, TransferInProgress); err != nil {
			slog.Warn("failed to mark transfer in progress", "transfer", transferID, "err", err)
		}
	}

	return stored, nil
}

// Complete assembles the stored parts into a single object at the
// transfer's target key. All parts are re-checked immediately before
// committing, so a concurrent in-flight part cannot be observed as a
// torn state. Safe to retry: a transfer already completed returns its
// key again, and a session the store reports gone is treated as success
// when the assembled object exists with the declared size.
func (c *Coordinator) Complete(ctx context.Context, transferID uuid.UUID) (CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return CommitResult{}, fmt.Errorf("complete transfer: %w", err)
	}

	t, err := c.repo.GetTransfer(ctx, transferID)
	if err != nil {
		return CommitResult{}, fmt.Errorf("complete transfer: %w", err)
	}

	switch t.Status {
	case TransferCompleted:
		res := CommitResult{Key: t.TargetKey}
		if info, headErr := c.head(ctx, t.TargetKey); headErr == nil {
			res.ETag = info.ETag
		}
		return res, nil
	case TransferAborted:
		return CommitResult{}, fmt.Errorf("complete transfer: transfer %s is aborted: %w", transferID, ErrNotFound)
	}

	parts, err := c.repo.ListParts(ctx, transferID)
	if err != nil {
		return CommitResult{}, fmt.Errorf("complete transfer: %w", err)
	}

	stored := make(map[int]PartRecord, len(parts))
	for _, p := range parts {
		if p.Status == PartStored {
			stored[p.Index] = p
		}
	}

	var missing []int
	tokens := make([]PartToken, 0, t.PartCount)
	for i := 1; i <= t.PartCount; i++ {
		p, ok := stored[i]
		if !ok {
			missing = append(missing, i)
			continue
		}
		tokens = append(tokens, PartToken{Index: i, Token: p.Token})
	}
	if len(missing) > 0 {
		return CommitResult{}, &IncompleteTransferError{TransferID: transferID, Missing: missing}
	}

	var etag string
	err = c.retryTransient(ctx, func() error {
		var completeErr error
		etag, completeErr = c.store.CompleteMultipart(ctx, t.TargetKey, t.UploadID, tokens)
		return completeErr
	})
	if err != nil {
		// A previous attempt may have committed before the response was
		// lost. If the object exists with the declared size, this is
		// that retry succeeding.
		info, headErr := c.head(ctx, t.TargetKey)
		if headErr != nil || info.Size != t.FileSize {
			return CommitResult{}, fmt.Errorf("complete transfer %s: %w", transferID, err)
		}
		etag = info.ETag
	}

	ok, err := c.repo.TransitionTransfer(ctx, transferID, []TransferStatus{TransferInitiated, TransferInProgress}, TransferCompleted)
	if err != nil {
		return CommitResult{}, fmt.Errorf("complete transfer %s: %w", transferID, err)
	}
	if !ok {
		slog.Info("transfer reached terminal state concurrently", "transfer", transferID)
	}

	return CommitResult{Key: t.TargetKey, ETag: etag}, nil
}

// Abort releases the object-store session and part records of a
// transfer and marks it aborted. It never returns an error so it can be
// used during failure unwinding: aborting an unknown, already aborted,
// or completed transfer is a no-op, and internal failures are logged
// and swallowed.
func (c *Coordinator) Abort(ctx context.Context, transferID uuid.UUID) {
	t, err := c.repo.GetTransfer(ctx, transferID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("abort: failed to load transfer", "transfer", transferID, "err", err)
		}
		return
	}
	if t.Status.IsTerminal() {
		return
	}

	if err := c.store.AbortMultipart(ctx, t.TargetKey, t.UploadID); err != nil {
		slog.Warn("abort: failed to release multipart session", "transfer", transferID, "err", err)
	}

	if err := c.repo.DeleteParts(ctx, transferID); err != nil {
		slog.Warn("abort: failed to delete part records", "transfer", transferID, "err", err)
	}

	if _, err := c.repo.TransitionTransfer(ctx, transferID, []TransferStatus{TransferInitiated, TransferInProgress}, TransferAborted); err != nil {
		slog.Warn("abort: failed to mark transfer aborted", "transfer", transferID, "err", err)
	}
}

// Status returns a read-only snapshot of a transfer. Returns
// ErrNotFound if the id is unknown.
func (c *Coordinator) Status(ctx context.Context, transferID uuid.UUID) (Transfer, error) {
	t, err := c.repo.GetTransfer(ctx, transferID)
	if err != nil {
		return Transfer{}, fmt.Errorf("transfer status: %w", err)
	}
	return t, nil
}

// Parts returns the part records of a transfer ordered by index.
func (c *Coordinator) Parts(ctx context.Context, transferID uuid.UUID) ([]PartRecord, error) {
	if _, err := c.repo.GetTransfer(ctx, transferID); err != nil {
		return nil, fmt.Errorf("transfer parts: %w", err)
	}
	parts, err := c.repo.ListParts(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("transfer parts: %w", err)
	}
	return parts, nil
}

// Sweep aborts open transfers older than the configured TTL, releasing
// their object-store sessions. Multipart sessions that are never
// completed or aborted accrue storage cost forever; run this
// periodically. Returns the number of transfers aborted.
func (c *Coordinator) Sweep(ctx context.Context, q SweepQuery) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}

	olderThan := q.OlderThan
	if olderThan <= 0 {
		olderThan = c.sweepAfter
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	before := c.now().Add(-olderThan)

	total := 0
	cursor := q.Cursor

	for {
		if err := ctx.Err(); err != nil {
			return total, fmt.Errorf("sweep: %w", err)
		}

		page, err := c.repo.ListStale(ctx, before, limit, cursor)
		if err != nil {
			return total, fmt.Errorf("sweep: %w", err)
		}

		if len(page.Items) == 0 {
			break
		}

		for _, t := range page.Items {
			c.Abort(ctx, t.ID)
			total++
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	return total, nil
}

// IssueDownloadURL returns a time-limited URL granting GET on the key.
// The key must exist (checked with a metadata probe, not a full read);
// expiry must be within [1s, MaxExpiry].
func (c *Coordinator) IssueDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if err := c.validateGrant(key, expiry); err != nil {
		return "", fmt.Errorf("issue download url: %w", err)
	}

	if _, err := c.head(ctx, key); err != nil {
		return "", fmt.Errorf("issue download url %s: %w", key, err)
	}

	u, err := c.store.PresignGet(ctx, key, expiry)
	if err != nil {
		return "", fmt.Errorf("issue download url %s: %w", key, err)
	}
	return u, nil
}

// IssueUploadURL returns a time-limited URL granting PUT on the key.
// Fresh uploads are expected, so the key does not need to pre-exist.
func (c *Coordinator) IssueUploadURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if err := c.validateGrant(key, expiry); err != nil {
		return "", fmt.Errorf("issue upload url: %w", err)
	}

	u, err := c.store.PresignPut(ctx, key, expiry)
	if err != nil {
		return "", fmt.Errorf("issue upload url %s: %w", key, err)
	}
	return u, nil
}

func (c *Coordinator) validateGrant(key string, expiry time.Duration) error {
	if !IsValidKey(key) {
		return fmt.Errorf("key %q: %w", key, ErrInvalidInput)
	}
	if expiry < time.Second || expiry > c.maxExpiry {
		return fmt.Errorf("expiry %s outside [1s, %s]: %w", expiry, c.maxExpiry, ErrInvalidExpiry)
	}
	return nil
}

// head probes the store, retrying transient failures. Probes are
// read-only and therefore always safe to retry.
func (c *Coordinator) head(ctx context.Context, key string) (ObjectInfo, error) {
	var info ObjectInfo
	err := c.retryTransient(ctx, func() error {
		var headErr error
		info, headErr = c.store.Head(ctx, key)
		return headErr
	})
	return info, err
}
