package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/tracking-engine/internal/requestlog"
)

var requestLogColumns = []string{
	"id", "tracking_number", "provider_id", "organization_id", "attempt",
	"success", "skipped", "latency_ms", "error_class", "error", "created_at",
}

// RequestLogStore appends request log rows and reads them back for scoring.
// Rows are never updated or deleted here.
type RequestLogStore struct {
	Q Querier
}

var (
	_ requestlog.Sink   = RequestLogStore{}
	_ requestlog.Reader = RequestLogStore{}
)

// Write bulk-inserts entries with COPY.
func (s RequestLogStore) Write(ctx context.Context, entries []requestlog.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{
			pgtype.UUID{Bytes: [16]byte(e.ID), Valid: e.ID != uuid.Nil},
			e.TrackingNumber,
			e.ProviderID,
			nullable(e.OrganizationID),
			e.Attempt,
			e.Success,
			e.Skipped,
			e.Latency.Milliseconds(),
			nullable(e.ErrorClass),
			nullable(e.Error),
			e.CreatedAt,
		}
	}
	n, err := s.Q.CopyFrom(ctx, pgx.Identifier{"request_log"}, requestLogColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy request log: %w", err)
	}
	if int(n) != len(entries) {
		return fmt.Errorf("copy request log: wrote %d of %d rows", n, len(entries))
	}
	return nil
}

// Recent returns entries created at or after since, newest first. A
// non-positive limit returns everything.
func (s RequestLogStore) Recent(ctx context.Context, since time.Time, limit int) ([]requestlog.Entry, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.Q.Query(ctx, `
SELECT id, tracking_number, provider_id, organization_id, attempt, success, skipped, latency_ms, error_class, error, created_at
FROM request_log
WHERE created_at >= $1
ORDER BY created_at DESC, id
LIMIT $2`, since, lim)
	if err != nil {
		return nil, fmt.Errorf("read request log: %w", err)
	}
	defer rows.Close()

	var out []requestlog.Entry
	for rows.Next() {
		var (
			e                 requestlog.Entry
			id                pgtype.UUID
			org, class, errTx *string
			latencyMs         int64
		)
		if err := rows.Scan(&id, &e.TrackingNumber, &e.ProviderID, &org, &e.Attempt, &e.Success, &e.Skipped,
			&latencyMs, &class, &errTx, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan request log: %w", err)
		}
		e.ID = uuid.UUID(id.Bytes)
		e.OrganizationID = deref(org)
		e.ErrorClass = deref(class)
		e.Error = deref(errTx)
		e.Latency = time.Duration(latencyMs) * time.Millisecond
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
