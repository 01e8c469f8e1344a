package pgorders

import (
	"context"
	"time"

	"github.com/BearBump/MarketSync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// OrderRef — локальный id плюс натуральный ключ и текущий статус; ровно то,
// что нужно классификации батча.
type OrderRef struct {
	ID         uint64
	ExternalID string
	Status     string
}

func (s *Storage) FindOrderRefs(ctx context.Context, orgID string, externalIDs []string) ([]OrderRef, error) {
	if len(externalIDs) == 0 {
		return []OrderRef{}, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT id, external_id, status
FROM orders
WHERE org_id = $1 AND external_id = ANY($2)
`, orgID, externalIDs)
	if err != nil {
		return nil, errors.Wrap(err, "select order refs")
	}
	defer rows.Close()

	out := make([]OrderRef, 0, len(externalIDs))
	for rows.Next() {
		var r OrderRef
		if err := rows.Scan(&r.ID, &r.ExternalID, &r.Status); err != nil {
			return nil, errors.Wrap(err, "scan order ref")
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) BulkInsertOrders(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, o := range orders {
		_, err := tx.Exec(ctx, `
INSERT INTO orders (
  org_id, shop_id, external_id, status, total_amount, currency,
  created_time, updated_time, paid_time, delivery_time,
  collection_due_at, shipping_due_at, delivery_due_at,
  channel_data, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)
ON CONFLICT (org_id, external_id) DO NOTHING
`, o.OrgID, o.ShopID, o.ExternalID, o.Status, o.TotalAmount, o.Currency,
			o.CreatedTime, o.UpdatedTime, o.PaidTime, o.DeliveryTime,
			o.CollectionDueAt, o.ShippingDueAt, o.DeliveryDueAt,
			o.ChannelData, now)
		if err != nil {
			return errors.Wrap(err, "insert order")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// UpdateOrder обновляет шапку заказа по натуральному ключу. Флаг
// problem_in_transit здесь не трогаем: им владеет детектор проблем.
func (s *Storage) UpdateOrder(ctx context.Context, o *models.Order) error {
	_, err := s.db.Exec(ctx, `
UPDATE orders
SET
  shop_id = $3,
  status = $4,
  total_amount = $5,
  currency = $6,
  created_time = $7,
  updated_time = $8,
  paid_time = $9,
  delivery_time = $10,
  collection_due_at = $11,
  shipping_due_at = $12,
  delivery_due_at = $13,
  channel_data = $14,
  updated_at = now()
WHERE org_id = $1 AND external_id = $2
`, o.OrgID, o.ExternalID, o.ShopID, o.Status, o.TotalAmount, o.Currency,
		o.CreatedTime, o.UpdatedTime, o.PaidTime, o.DeliveryTime,
		o.CollectionDueAt, o.ShippingDueAt, o.DeliveryDueAt, o.ChannelData)
	return errors.Wrap(err, "update order")
}

func (s *Storage) SetOrderProblemInTransit(ctx context.Context, orderID uint64) error {
	_, err := s.db.Exec(ctx, `UPDATE orders SET problem_in_transit = TRUE, updated_at = now() WHERE id = $1`, orderID)
	return errors.Wrap(err, "mark order problem in transit")
}
