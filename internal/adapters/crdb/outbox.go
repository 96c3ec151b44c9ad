package crdb

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/robertarktes/venue-reservations/internal/outbox"
)

var _ outbox.Store = (*Repository)(nil)

// InsertOutbox ignores a record whose dedupe key is already spooled.
func (r *Repository) InsertOutbox(ctx context.Context, rec outbox.Record) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, created_at, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dedupe_key) DO NOTHING
	`, rec.ID, rec.AggregateType, rec.AggregateID, rec.EventType, rec.Payload, rec.CreatedAt, rec.DedupeKey)
	return errors.Wrapf(err, "insert outbox record %s", rec.ID)
}

func (r *Repository) ClaimUnpublished(ctx context.Context, limit int, lease time.Duration) ([]outbox.Record, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE outbox SET claimed_until = now() + $2::INTERVAL
		WHERE id IN (
			SELECT id FROM outbox
			WHERE published_at IS NULL AND (claimed_until IS NULL OR claimed_until < now())
			ORDER BY created_at ASC
			LIMIT $1
		)
		RETURNING id, aggregate_type, aggregate_id, event_type, payload_json, created_at, dedupe_key
	`, limit, lease)
	if err != nil {
		return nil, errors.Wrap(err, "claim outbox records")
	}
	defer rows.Close()

	var records []outbox.Record
	for rows.Next() {
		var rec outbox.Record
		if err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.DedupeKey); err != nil {
			return nil, errors.Wrap(err, "scan outbox record")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "claim outbox records")
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })
	return records, nil
}

func (r *Repository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox SET published_at = $2, claimed_until = NULL WHERE id = $1
	`, id, publishedAt)
	return errors.Wrapf(err, "mark outbox record %s published", id)
}
