package partflow

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a transfer, part, or storage key is not found
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidSize is returned when a declared file or part size is out of range
	ErrInvalidSize = errors.New("invalid size")
	// ErrInvalidExpiry is returned when a signed URL expiry is out of range
	ErrInvalidExpiry = errors.New("invalid expiry")
	// ErrPartConflict is returned when a part is re-uploaded with a different checksum
	ErrPartConflict = errors.New("part checksum conflict")
	// ErrIncomplete is returned when a transfer is committed before all parts are stored
	ErrIncomplete = errors.New("transfer incomplete")
	// ErrStoreUnavailable is returned for transient object-store or metadata-store failures
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUnauthorized is returned when authentication or key scoping fails
	ErrUnauthorized = errors.New("unauthorized")
)

// IncompleteTransferError reports which part indices are still missing
// when Complete is called on a transfer that is not fully stored.
type IncompleteTransferError struct {
	TransferID uuid.UUID
	Missing    []int
}

func (e *IncompleteTransferError) Error() string {
	return fmt.Sprintf("transfer %s incomplete: missing parts %v", e.TransferID, e.Missing)
}

// Unwrap makes errors.Is(err, ErrIncomplete) match.
func (e *IncompleteTransferError) Unwrap() error {
	return ErrIncomplete
}
