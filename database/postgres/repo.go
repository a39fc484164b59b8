// Package postgres implements the transfer metadata repo on PostgreSQL
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/partflow/partflow"
)

type Repo struct {
	pool   *pgxpool.Pool
	tables partflow.Tables
}

func NewRepo(pool *pgxpool.Pool, tables partflow.Tables) (*Repo, error) {
	if err := tables.Validate(); err != nil {
		return nil, fmt.Errorf("new repo: %w", err)
	}

	return &Repo{pool: pool, tables: tables}, nil
}

// Ping verifies database connectivity
func (r *Repo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repo) CreateTransfer(ctx context.Context, t partflow.Transfer) (partflow.Transfer, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, target_key, content_type, principal, upload_id, file_size, part_size, part_count, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, r.tables.Transfers)

	err := r.pool.QueryRow(ctx, query,
		t.ID, t.TargetKey, t.ContentType, t.Principal, t.UploadID,
		t.FileSize, t.PartSize, t.PartCount, string(t.Status),
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return partflow.Transfer{}, fmt.Errorf("create transfer: %w", err)
	}

	return t, nil
}

func (r *Repo) GetTransfer(ctx context.Context, id uuid.UUID) (partflow.Transfer, error) {
	query := fmt.Sprintf(`
		SELECT id, target_key, content_type, principal, upload_id, file_size, part_size, part_count, status, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, r.tables.Transfers)

	var t partflow.Transfer
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.TargetKey, &t.ContentType, &t.Principal, &t.UploadID,
		&t.FileSize, &t.PartSize, &t.PartCount, &t.Status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return partflow.Transfer{}, partflow.ErrNotFound
		}
		return partflow.Transfer{}, fmt.Errorf("get transfer: %w", err)
	}

	return t, nil
}

func (r *Repo) TransitionTransfer(ctx context.Context, id uuid.UUID, from []partflow.TransferStatus, to partflow.TransferStatus) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, r.tables.Transfers)

	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	result, err := r.pool.Exec(ctx, query, id, string(to), fromStrs)
	if err != nil {
		return false, fmt.Errorf("transition transfer: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *Repo) StagePart(ctx context.Context, rec partflow.PartRecord) (partflow.PartRecord, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (transfer_id, part_index, range_start, range_end, size, checksum, token, status)
		VALUES ($1, $2, $3, $4, $5, $6, '', $7)
		ON CONFLICT (transfer_id, part_index) DO UPDATE
		SET range_start = EXCLUDED.range_start,
			range_end = EXCLUDED.range_end,
			size = EXCLUDED.size,
			checksum = EXCLUDED.checksum,
			token = '',
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING transfer_id, part_index, range_start, range_end, size, checksum, token, status, created_at, updated_at
	`, r.tables.Parts)

	var out partflow.PartRecord
	err := r.pool.QueryRow(ctx, query,
		rec.TransferID, rec.Index, rec.RangeStart, rec.RangeEnd, rec.Size, rec.Checksum, string(partflow.PartPending),
	).Scan(
		&out.TransferID, &out.Index, &out.RangeStart, &out.RangeEnd, &out.Size,
		&out.Checksum, &out.Token, &out.Status, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return partflow.PartRecord{}, fmt.Errorf("stage part: %w", err)
	}

	return out, nil
}

func (r *Repo) MarkPartStored(ctx context.Context, transferID uuid.UUID, index int, checksum, token string) (partflow.PartRecord, error) {
	// The checksum guard makes this a compare-and-swap: a concurrent
	// re-upload that re-staged the index with different content leaves
	// this caller with zero rows, never a corrupt record.
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $5, token = $4, updated_at = NOW()
		WHERE transfer_id = $1 AND part_index = $2 AND checksum = $3
		RETURNING transfer_id, part_index, range_start, range_end, size, checksum, token, status, created_at, updated_at
	`, r.tables.Parts)

	var out partflow.PartRecord
	err := r.pool.QueryRow(ctx, query, transferID, index, checksum, token, string(partflow.PartStored)).Scan(
		&out.TransferID, &out.Index, &out.RangeStart, &out.RangeEnd, &out.Size,
		&out.Checksum, &out.Token, &out.Status, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return partflow.PartRecord{}, partflow.ErrNotFound
		}
		return partflow.PartRecord{}, fmt.Errorf("mark part stored: %w", err)
	}

	return out, nil
}

func (r *Repo) GetPart(ctx context.Context, transferID uuid.UUID, index int) (partflow.PartRecord, error) {
	query := fmt.Sprintf(`
		SELECT transfer_id, part_index, range_start, range_end, size, checksum, token, status, created_at, updated_at
		FROM %s
		WHERE transfer_id = $1 AND part_index = $2
	`, r.tables.Parts)

	var out partflow.PartRecord
	err := r.pool.QueryRow(ctx, query, transferID, index).Scan(
		&out.TransferID, &out.Index, &out.RangeStart, &out.RangeEnd, &out.Size,
		&out.Checksum, &out.Token, &out.Status, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return partflow.PartRecord{}, partflow.ErrNotFound
		}
		return partflow.PartRecord{}, fmt.Errorf("get part: %w", err)
	}

	return out, nil
}

func (r *Repo) ListParts(ctx context.Context, transferID uuid.UUID) ([]partflow.PartRecord, error) {
	query := fmt.Sprintf(`
		SELECT transfer_id, part_index, range_start, range_end, size, checksum, token, status, created_at, updated_at
		FROM %s
		WHERE transfer_id = $1
		ORDER BY part_index
	`, r.tables.Parts)

	rows, err := r.pool.Query(ctx, query, transferID)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	defer rows.Close()

	var parts []partflow.PartRecord
	for rows.Next() {
		var p partflow.PartRecord
		if err := rows.Scan(
			&p.TransferID, &p.Index, &p.RangeStart, &p.RangeEnd, &p.Size,
			&p.Checksum, &p.Token, &p.Status, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("list parts: scan: %w", err)
		}
		parts = append(parts, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list parts: rows: %w", err)
	}

	return parts, nil
}

func (r *Repo) DeleteParts(ctx context.Context, transferID uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE transfer_id = $1`, r.tables.Parts)

	if _, err := r.pool.Exec(ctx, query, transferID); err != nil {
		return fmt.Errorf("delete parts: %w", err)
	}

	return nil
}

func (r *Repo) ListStale(ctx context.Context, before time.Time, limit int, cursorStr string) (partflow.TransferPage, error) {
	cursor, err := partflow.DecodeCursor(cursorStr)
	if err != nil {
		return partflow.TransferPage{}, fmt.Errorf("list stale: %w", err)
	}

	openStatuses := []string{string(partflow.TransferInitiated), string(partflow.TransferInProgress)}

	var query string
	var args []any

	if cursorStr == "" {
		query = fmt.Sprintf(`
			SELECT id, target_key, content_type, principal, upload_id, file_size, part_size, part_count, status, created_at, updated_at
			FROM %s
			WHERE status = ANY($1) AND created_at < $2
			ORDER BY created_at, id
			LIMIT $3
		`, r.tables.Transfers)
		args = []any{openStatuses, before, limit + 1}
	} else {
		cursorID, parseErr := uuid.Parse(cursor.ID)
		if parseErr != nil {
			return partflow.TransferPage{}, fmt.Errorf("list stale: cursor id: %w", parseErr)
		}
		query = fmt.Sprintf(`
			SELECT id, target_key, content_type, principal, upload_id, file_size, part_size, part_count, status, created_at, updated_at
			FROM %s
			WHERE status = ANY($1) AND created_at < $2 AND (created_at, id) > ($3, $4)
			ORDER BY created_at, id
			LIMIT $5
		`, r.tables.Transfers)
		args = []any{openStatuses, before, cursor.CreatedAt, cursorID, limit + 1}
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return partflow.TransferPage{}, fmt.Errorf("list stale: %w", err)
	}
	defer rows.Close()

	items := make([]partflow.Transfer, 0, limit)
	for rows.Next() {
		var t partflow.Transfer
		if err := rows.Scan(
			&t.ID, &t.TargetKey, &t.ContentType, &t.Principal, &t.UploadID,
			&t.FileSize, &t.PartSize, &t.PartCount, &t.Status, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return partflow.TransferPage{}, fmt.Errorf("list stale: scan: %w", err)
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
