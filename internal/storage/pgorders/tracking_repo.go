package pgorders

import (
	"context"
	"time"

	"github.com/BearBump/MarketSync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// TrackingKey — натуральный ключ состояния трекинга.
type TrackingKey struct {
	OrderID        uint64
	TrackingNumber string
}

// ExistingTrackingKeys возвращает все пары (order_id, tracking_number), уже
// имеющие состояние трекинга, для заданных заказов. Вторая фаза дедупликации
// перед вставкой.
func (s *Storage) ExistingTrackingKeys(ctx context.Context, orderIDs []uint64) (map[TrackingKey]struct{}, error) {
	out := make(map[TrackingKey]struct{})
	if len(orderIDs) == 0 {
		return out, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT order_id, tracking_number
FROM fulfillment_tracking_states
WHERE order_id = ANY($1)
`, orderIDs)
	if err != nil {
		return nil, errors.Wrap(err, "select tracking keys")
	}
	defer rows.Close()

	for rows.Next() {
		var k TrackingKey
		if err := rows.Scan(&k.OrderID, &k.TrackingNumber); err != nil {
			return nil, errors.Wrap(err, "scan tracking key")
		}
		out[k] = struct{}{}
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// InsertTrackingStates вставляет новые состояния. ON CONFLICT DO NOTHING по
// уникальному индексу (order_id, tracking_number) закрывает гонку между
// проверкой существования и вставкой.
func (s *Storage) InsertTrackingStates(ctx context.Context, states []*models.TrackingState) error {
	if len(states) == 0 {
		return nil
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, st := range states {
		_, err := tx.Exec(ctx, `
INSERT INTO fulfillment_tracking_states (
  org_id, order_id, tracking_number, provider_name, provider_type, service_level, status, package_id, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
ON CONFLICT (order_id, tracking_number) DO NOTHING
`, st.OrgID, st.OrderID, st.TrackingNumber, st.ProviderName, st.ProviderType, st.ServiceLevel, st.Status, st.PackageID, now)
		if err != nil {
			return errors.Wrap(err, "insert tracking state")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// PackageRefsByOrderIDs отдаёт surrogate id пакетов по ключам трекинга для
// best-effort обратной ссылки состояния на пакет.
func (s *Storage) PackageRefsByOrderIDs(ctx context.Context, orderIDs []uint64) (map[TrackingKey]uint64, error) {
	out := make(map[TrackingKey]uint64)
	if len(orderIDs) == 0 {
		return out, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT id, order_id, tracking_number
FROM packages
WHERE order_id = ANY($1) AND tracking_number IS NOT NULL AND tracking_number <> ''
`, orderIDs)
	if err != nil {
		return nil, errors.Wrap(err, "select package refs")
	}
	defer rows.Close()

	for rows.Next() {
		var id uint64
		var k TrackingKey
		if err := rows.Scan(&id, &k.OrderID, &k.TrackingNumber); err != nil {
			return nil, errors.Wrap(err, "scan package ref")
		}
		out[k] = id
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) LinkTrackingStatePackage(ctx context.Context, key TrackingKey, packageID uint64) error {
	_, err := s.db.Exec(ctx, `
UPDATE fulfillment_tracking_states
SET package_id = $3, updated_at = now()
WHERE order_id = $1 AND tracking_number = $2
`, key.OrderID, key.TrackingNumber, packageID)
	return errors.Wrap(err, "link tracking state package")
}

func (s *Storage) HasTimelineEntries(ctx context.Context, orderID uint64) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM order_timeline_entries WHERE order_id = $1)
`, orderID).Scan(&exists)
	return exists, errors.Wrap(err, "timeline exists")
}

func (s *Storage) ListTimelineEntries(ctx context.Context, orderID uint64) ([]*models.TimelineEntry, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, order_id, description, sequence, occurred_at, source, created_at
FROM order_timeline_entries
WHERE order_id = $1
ORDER BY sequence ASC, occurred_at ASC
`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select timeline entries")
	}
	defer rows.Close()

	var out []*models.TimelineEntry
	for rows.Next() {
		var e models.TimelineEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Description, &e.Sequence, &e.OccurredAt, &e.Source, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan timeline entry")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) InsertTimelineEntries(ctx context.Context, entries []*models.TimelineEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, e := range entries {
		_, err := tx.Exec(ctx, `
INSERT INTO order_timeline_entries (order_id, description, sequence, occurred_at, source, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, e.OrderID, e.Description, e.Sequence, e.OccurredAt.UTC(), e.Source, now)
		if err != nil {
			return errors.Wrap(err, "insert timeline entry")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}
