// Package sqlite implements the transfer metadata repo using SQLite
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/partflow/partflow"
)

type Repo struct {
	db     *sql.DB
	tables partflow.Tables
}

func NewRepo(db *sql.DB, tables partflow.Tables) (*Repo, error) {
	if err := tables.Validate(); err != nil {
		return nil, fmt.Errorf("new repo: %w", err)
	}

	return &Repo{db: db, tables: tables}, nil
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func (r *Repo) CreateTransfer(ctx context.Context, t partflow.Transfer) (partflow.Transfer, error) {
	now := nowString()
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`INSERT INTO %s (id, target_key, content_type, principal, upload_id, file_size, part_size, part_count, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, r.tables.Transfers)

	_, err := r.db.ExecContext(ctx, query,
		t.ID.String(), t.TargetKey, t.ContentType, t.Principal, t.UploadID,
		t.FileSize, t.PartSize, t.PartCount, string(t.Status), now, now,
	)
	if err != nil {
		return partflow.Transfer{}, fmt.Errorf("create transfer: %w", err)
	}

	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, now)
	t.UpdatedAt = t.CreatedAt
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (partflow.Transfer, error) {
	var t partflow.Transfer
	var idStr, status, createdAt, updatedAt string

	err := row.Scan(
		&idStr, &t.TargetKey, &t.ContentType, &t.Principal, &t.UploadID,
		&t.FileSize, &t.PartSize, &t.PartCount, &status, &createdAt, &updatedAt,
	)
	if err != nil {
		return partflow.Transfer{}, err
	}

	if t.ID, err = uuid.Parse(idStr); err != nil {
		return partflow.Transfer{}, fmt.Errorf("parse uuid: %w", err)
	}
	t.Status = partflow.TransferStatus(status)
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return partflow.Transfer{}, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return partflow.Transfer{}, fmt.Errorf("parse updated_at: %w", err)
	}

	return t, nil
}

func scanPart(row rowScanner) (partflow.PartRecord, error) {
	var p partflow.PartRecord
	var idStr, status, createdAt, updatedAt string

	err := row.Scan(
		&idStr, &p.Index, &p.RangeStart, &p.RangeEnd, &p.Size,
		&p.Checksum, &p.Token, &status, &createdAt, &updatedAt,
	)
	if err != nil {
		return partflow.PartRecord{}, err
	}

	if p.TransferID, err = uuid.Parse(idStr); err != nil {
		return partflow.PartRecord{}, fmt.Errorf("parse uuid: %w", err)
	}
	p.Status = partflow.PartStatus(status)
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return partflow.PartRecord{}, fmt.Errorf("parse created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return partflow.PartRecord{}, fmt.Errorf("parse updated_at: %w", err)
	}

	return p, nil
}

func (r *Repo) GetTransfer(ctx context.Context, id uuid.UUID) (partflow.Transfer, error) {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`SELECT id, target_key, content_type, principal, upload_id, file_size, part_size, part_count, status, created_at, updated_at
		FROM %s
		WHERE id = ?`, r.tables.Transfers)

	t, err := scanTransfer(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return partflow.Transfer{}, partflow.ErrNotFound
		}
		return partflow.Transfer{}, fmt.Errorf("get transfer: %w", err)
	}

	return t, nil
}

func (r *Repo) TransitionTransfer(ctx context.Context, id uuid.UUID, from []partflow.TransferStatus, to partflow.TransferStatus) (bool, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`UPDATE %s
		SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (%s)`, r.tables.Transfers, placeholders)

	args := []any{string(to), nowString(), id.String()}
	for _, s := range from {
		args = append(args, string(s))
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition transfer: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition transfer: rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

func (r *Repo) StagePart(ctx context.Context, rec partflow.PartRecord) (partflow.PartRecord, error) {
	now := nowString()
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`INSERT INTO %s (transfer_id, part_index, range_start, range_end, size, checksum, token, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, '', ?, ?, ?)
		ON CONFLICT (transfer_id, part_index) DO UPDATE
		SET range_start = excluded.range_start,
			range_end = excluded.range_end,
			size = excluded.size,
			checksum = excluded.checksum,
			token = '',
			status = excluded.status,
			updated_at = excluded.updated_at`, r.tables.Parts)

	_, err := r.db.ExecContext(ctx, query,
		rec.TransferID.String(), rec.Index, rec.RangeStart, rec.RangeEnd, rec.Size,
		rec.Checksum, string(partflow.PartPending), now, now,
	)
	if err != nil {
		return partflow.PartRecord{}, fmt.Errorf("stage part: %w", err)
	}

	return r.GetPart(ctx, rec.TransferID, rec.Index)
}

func (r *Repo) MarkPartStored(ctx context.Context, transferID uuid.UUID, index int, checksum, token string) (partflow.PartRecord, error) {
	// The checksum guard makes this a compare-and-swap: a concurrent
	// re-upload that re-staged the index with different content leaves
	// this caller with zero rows, never a corrupt record.
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`UPDATE %s
		SET status = ?, token = ?, updated_at = ?
		WHERE transfer_id = ? AND part_index = ? AND checksum = ?`, r.tables.Parts)

	result, err := r.db.ExecContext(ctx, query,
		string(partflow.PartStored), token, nowString(), transferID.String(), index, checksum,
	)
	if err != nil {
		return partflow.PartRecord{}, fmt.Errorf("mark part stored: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return partflow.PartRecord{}, fmt.Errorf("mark part stored: rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return partflow.PartRecord{}, fmt.Errorf("mark part stored: %w", partflow.ErrNotFound)
	}

	return r.GetPart(ctx, transferID, index)
}

func (r *Repo) GetPart(ctx context.Context, transferID uuid.UUID, index int) (partflow.PartRecord, error) {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`SELECT transfer_id, part_index, range_start, range_end, size, checksum, token, status, created_at, updated_at
		FROM %s
		WHERE transfer_id = ? AND part_index = ?`, r.tables.Parts)

	p, err := scanPart(r.db.QueryRowContext(ctx, query, transferID.String(), index))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return partflow.PartRecord{}, partflow.ErrNotFound
		}
		return partflow.PartRecord{}, fmt.Errorf("get part: %w", err)
	}

	return p, nil
}

func (r *Repo) ListParts(ctx context.Context, transferID uuid.UUID) ([]partflow.PartRecord, error) {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`SELECT transfer_id, part_index, range_start, range_end, size, checksum, token, status, created_at, updated_at
		FROM %s
		WHERE transfer_id = ?
		ORDER BY part_index`, r.tables.Parts)

	rows, err := r.db.QueryContext(ctx, query, transferID.String())
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var parts []partflow.PartRecord
	for rows.Next() {
		p, scanErr := scanPart(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("list parts: scan: %w", scanErr)
		}
		parts = append(parts, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list parts: rows: %w", err)
	}

	return parts, nil
}

func (r *Repo) DeleteParts(ctx context.Context, transferID uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE transfer_id = ?`, r.tables.Parts) //nolint:gosec // table name is validated

	if _, err := r.db.ExecContext(ctx, query, transferID.String()); err != nil {
		return fmt.Errorf("delete parts: %w", err)
	}

	return nil
}

func (r *Repo) ListStale(ctx context.Context, before time.Time, limit int, cursorStr string) (partflow.TransferPage, error) {
	cursor, err := partflow.DecodeCursor(cursorStr)
	if err != nil {
		return partflow.TransferPage{}, fmt.Errorf("list stale: %w", err)
	}

	beforeStr := before.UTC().Format(time.RFC3339Nano)

	var query string
	var args []any

	if cursorStr == "" {
		query = fmt.Sprintf(`
			SELECT id, target_key, content_type, principal, upload_id, file_size, part_size, part_count, status, created_at, updated_at
			FROM %s
			WHERE status IN (?, ?) AND created_at < ?
			ORDER BY created_at, id
			LIMIT ?
		`, r.tables.Transfers)
		args = []any{
			string(partflow.TransferInitiated), string(partflow.TransferInProgress),
			beforeStr, limit + 1,
		}
	} else {
		query = fmt.Sprintf(`
			SELECT id, target_key, content_type, principal, upload_id, file_size, part_size, part_count, status, created_at, updated_at
			FROM %s
			WHERE status IN (?, ?) AND created_at < ? AND (created_at, id) > (?, ?)
			ORDER BY created_at, id
			LIMIT ?
		`, r.tables.Transfers)
		args = []any{
			string(partflow.TransferInitiated), string(partflow.TransferInProgress),
			beforeStr, cursor.CreatedAt.Format(time.RFC3339Nano), cursor.ID, limit + 1,
		}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return partflow.TransferPage{}, fmt.Errorf("list stale: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]partflow.Transfer, 0, limit)
	for rows.Next() {
		t, scanErr := scanTransfer(rows)
		if scanErr != nil {
			return partflow.TransferPage{}, fmt.Errorf("list stale: scan: %w", scanErr)
		}
		items = append(items, t)
	}

	if err := rows.Err(); err != nil {
		return partflow.TransferPage{}, fmt.Errorf("list stale: rows: %w", err)
	}

	var nextCursor string
	if len(items) > limit {
		// Cursor points to the last item of the current page
		lastItem := items[limit-1]
		nextCursor = partflow.EncodeCursor(lastItem.CreatedAt, lastItem.ID.String())
		items = items[:limit]
	}

	return partflow.TransferPage{Items: items, NextCursor: nextCursor}, nil
}
