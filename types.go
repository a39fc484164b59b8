package partflow

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// TransferStatus is the lifecycle state of a Transfer.
type TransferStatus string

const (
	TransferInitiated  TransferStatus = "initiated"
	TransferInProgress TransferStatus = "in_progress"
	TransferCompleted  TransferStatus = "completed"
	TransferAborted    TransferStatus = "aborted"
)

func (s TransferStatus) IsValid() bool {
	switch s {
	case TransferInitiated, TransferInProgress, TransferCompleted, TransferAborted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the transfer can no longer accept parts.
func (s TransferStatus) IsTerminal() bool {
	return s == TransferCompleted || s == TransferAborted
}

// PartStatus is the acknowledgment state of a single part.
type PartStatus string

const (
	PartPending PartStatus = "pending"
	PartStored  PartStatus = "stored"
)

// Transfer identifies one logical file upload composed of ordered parts.
type Transfer struct {
	ID          uuid.UUID      `json:"id"`
	TargetKey   string         `json:"target_key"`
	ContentType string         `json:"content_type"`
	Principal   string         `json:"principal"`
	UploadID    string         `json:"-"`
	FileSize    int64          `json:"file_size"`
	PartSize    int64          `json:"part_size"`
	PartCount   int            `json:"part_count"`
	Status      TransferStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// PartRecord is the durable record of one chunk of a Transfer.
type PartRecord struct {
	TransferID uuid.UUID  `json:"transfer_id"`
	Index      int        `json:"index"`
	RangeStart int64      `json:"range_start"`
	RangeEnd   int64      `json:"range_end"`
	Size       int64      `json:"size"`
	Checksum   string     `json:"checksum"`
	Token      string     `json:"-"`
	Status     PartStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// BeginTransfer declares a new upload.
type BeginTransfer struct {
	TargetKey   string `json:"target_key"`
	ContentType string `json:"content_type"`
	FileSize    int64  `json:"file_size"`
	PartSize    int64  `json:"part_size"`
}

// CommitResult is returned by Complete once the parts are assembled
// into a single object.
type CommitResult struct {
	Key  string `json:"key"`
	ETag string `json:"etag"`
}

// PartToken pairs a part index with the opaque token the object store
// returned for it. CompleteMultipart requires the full ordered set.
type PartToken struct {
	Index int
	Token string
}

// ObjectInfo is the result of an object existence probe.
type ObjectInfo struct {
	Key  string
	Size int64
	ETag string
}

// SweepQuery selects stale open transfers for garbage collection.
type SweepQuery struct {
	OlderThan time.Duration
	Limit     int
	Cursor    string
}

// TransferPage is one page of transfers from a stale-transfer listing.
type TransferPage struct {
	Items      []Transfer `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// ExpectedPartCount returns ceil(fileSize/partSize). Both sizes must be
// positive; callers validate before use.
func ExpectedPartCount(fileSize, partSize int64) int {
	return int((fileSize + partSize - 1) / partSize)
}

// PartRange returns the inclusive byte range [start, end] covered by the
// 1-based part index, and the part's expected size.
func PartRange(fileSize, partSize int64, index int) (start, end, size int64) {
	start = int64(index-1) * partSize
	end = start + partSize - 1
	if end > fileSize-1 {
		end = fileSize - 1
	}
	return start, end, end - start + 1
}

// Tables holds configurable table names for transfer metadata.
// This allows multi-tenant deployments to use different table names.
type Tables struct {
	Transfers string `mapstructure:"transfers"`
	Parts     string `mapstructure:"parts"`
}

// DefaultTables returns the default table names.
func DefaultTables() Tables {
	return Tables{
		Transfers: "transfers",
		Parts:     "transfer_parts",
	}
}

var validTableNameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// IsValidTableName checks if a table name is valid (lowercase, alphanumeric with underscores, max 63 chars).
func IsValidTableName(name string) bool {
	return validTableNameRegex.MatchString(name) && len(name) <= 63
}

// Validate checks that all required table names are set and valid.
func (t Tables) Validate() error {
	if t.Transfers == "" {
		return errors.New("validate tables: transfers table name cannot be empty")
	}
	if t.Parts == "" {
		return errors.New("validate tables: parts table name cannot be empty")
	}

	for _, name := range []string{t.Transfers, t.Parts} {
		if !IsValidTableName(name) {
			return fmt.Errorf("validate tables: invalid table name: %s (must match ^[a-z_][a-z0-9_]*$ and be <= 63 chars)", name)
		}
	}

	return nil
}
