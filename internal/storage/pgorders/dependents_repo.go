package pgorders

import (
	"context"
	"time"

	"github.com/BearBump/MarketSync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Зависимые коллекции заменяются целиком: delete по затронутым заказам, затем
// вставка свежих строк. Никакого пофилдового мержа — схема источника
// дрейфует между версиями API. Снапшот не транзакционен относительно других
// коллекций, только внутри своей.

func (s *Storage) ReplaceLineItems(ctx context.Context, orderIDs []uint64, items []*models.LineItem) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM order_line_items WHERE order_id = ANY($1)`, orderIDs); err != nil {
		return errors.Wrap(err, "delete line items")
	}

	for _, it := range items {
		_, err := tx.Exec(ctx, `
INSERT INTO order_line_items (
  order_id, external_id, product_id, sku_id, name, price, currency, channel_data, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, it.OrderID, it.ExternalID, it.ProductID, it.SkuID, it.Name, it.Price, it.Currency, it.ChannelData, now)
		if err != nil {
			return errors.Wrap(err, "insert line item")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) ReplacePayments(ctx context.Context, orderIDs []uint64, payments []*models.Payment) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM order_payments WHERE order_id = ANY($1)`, orderIDs); err != nil {
		return errors.Wrap(err, "delete payments")
	}

	for _, p := range payments {
		_, err := tx.Exec(ctx, `
INSERT INTO order_payments (order_id, currency, total, subtotal, tax, channel_data, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, p.OrderID, p.Currency, p.Total, p.Subtotal, p.Tax, p.ChannelData, now)
		if err != nil {
			return errors.Wrap(err, "insert payment")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) ReplaceAddresses(ctx context.Context, orderIDs []uint64, addrs []*models.RecipientAddress) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Районы удаляются каскадом вместе с адресами.
	if _, err := tx.Exec(ctx, `DELETE FROM order_addresses WHERE order_id = ANY($1)`, orderIDs); err != nil {
		return errors.Wrap(err, "delete addresses")
	}

	for _, a := range addrs {
		var addressID uint64
		err := tx.QueryRow(ctx, `
INSERT INTO order_addresses (order_id, full_address, name, phone, postal_code, channel_data, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id
`, a.OrderID, a.FullAddress, a.Name, a.Phone, a.PostalCode, a.ChannelData, now).Scan(&addressID)
		if err != nil {
			return errors.Wrap(err, "insert address")
		}

		for _, d := range a.Districts {
			_, err := tx.Exec(ctx, `
INSERT INTO address_districts (address_id, level, name) VALUES ($1,$2,$3)
`, addressID, d.Level, d.Name)
			if err != nil {
				return errors.Wrap(err, "insert district")
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) ReplacePackages(ctx context.Context, orderIDs []uint64, pkgs []*models.Package) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM packages WHERE order_id = ANY($1)`, orderIDs); err != nil {
		return errors.Wrap(err, "delete packages")
	}

	for _, p := range pkgs {
		_, err := tx.Exec(ctx, `
INSERT INTO packages (
  order_id, external_id, provider_name, provider_type, service_level, status, tracking_number, channel_data, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, p.OrderID, p.ExternalID, p.ProviderName, p.ProviderType, p.ServiceLevel, p.Status, p.TrackingNumber, p.ChannelData, now)
		if err != nil {
			return errors.Wrap(err, "insert package")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}
