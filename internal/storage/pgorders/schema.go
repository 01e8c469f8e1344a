package pgorders

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGSERIAL PRIMARY KEY,
  org_id TEXT NOT NULL,
  shop_id TEXT NOT NULL,
  external_id TEXT NOT NULL,
  status TEXT NOT NULL,
  total_amount TEXT NOT NULL DEFAULT '',
  currency TEXT NOT NULL DEFAULT '',
  created_time TIMESTAMPTZ NULL,
  updated_time TIMESTAMPTZ NULL,
  paid_time TIMESTAMPTZ NULL,
  delivery_time TIMESTAMPTZ NULL,
  collection_due_at TIMESTAMPTZ NULL,
  shipping_due_at TIMESTAMPTZ NULL,
  delivery_due_at TIMESTAMPTZ NULL,
  problem_in_transit BOOLEAN NOT NULL DEFAULT FALSE,
  channel_data JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (org_id, external_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_shop_id ON orders(org_id, shop_id)`,
		`
CREATE TABLE IF NOT EXISTS order_line_items (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  external_id TEXT NOT NULL,
  product_id TEXT NOT NULL DEFAULT '',
  sku_id TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL DEFAULT '',
  price TEXT NOT NULL DEFAULT '',
  currency TEXT NOT NULL DEFAULT '',
  channel_data JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_line_items_order_id ON order_line_items(order_id)`,
		`
CREATE TABLE IF NOT EXISTS order_payments (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  currency TEXT NOT NULL DEFAULT '',
  total TEXT NOT NULL DEFAULT '',
  subtotal TEXT NOT NULL DEFAULT '',
  tax TEXT NOT NULL DEFAULT '',
  channel_data JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_payments_order_id ON order_payments(order_id)`,
		`
CREATE TABLE IF NOT EXISTS order_addresses (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  full_address TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL DEFAULT '',
  phone TEXT NOT NULL DEFAULT '',
  postal_code TEXT NOT NULL DEFAULT '',
  channel_data JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_addresses_order_id ON order_addresses(order_id)`,
		`
CREATE TABLE IF NOT EXISTS address_districts (
  id BIGSERIAL PRIMARY KEY,
  address_id BIGINT NOT NULL REFERENCES order_addresses(id) ON DELETE CASCADE,
  level INT NOT NULL DEFAULT 0,
  name TEXT NOT NULL DEFAULT ''
)`,
		`
CREATE TABLE IF NOT EXISTS packages (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  external_id TEXT NOT NULL,
  provider_name TEXT NOT NULL DEFAULT '',
  provider_type TEXT NOT NULL DEFAULT '',
  service_level TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT '',
  tracking_number TEXT NULL,
  channel_data JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_packages_order_id ON packages(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_packages_order_id_tracking_number ON packages(order_id, tracking_number)`,
		// package_id без FK: строки packages пересоздаются каждым проходом синка,
		// ссылка заполняется best-effort заново.
		`
CREATE TABLE IF NOT EXISTS fulfillment_tracking_states (
  id BIGSERIAL PRIMARY KEY,
  org_id TEXT NOT NULL,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  tracking_number TEXT NOT NULL,
  provider_name TEXT NOT NULL DEFAULT '',
  provider_type TEXT NOT NULL DEFAULT '',
  service_level TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT '',
  package_id BIGINT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (order_id, tracking_number)
)`,
		`
CREATE TABLE IF NOT EXISTS order_timeline_entries (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  description TEXT NOT NULL DEFAULT '',
  sequence INT NOT NULL DEFAULT 0,
  occurred_at TIMESTAMPTZ NOT NULL,
  source TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_timeline_entries_order_id_sequence ON order_timeline_entries(order_id, sequence)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
