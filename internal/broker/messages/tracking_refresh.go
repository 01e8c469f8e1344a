package messages

// TrackingRefreshRequested публикуется один раз на батч для заказов,
// получивших новое состояние трекинга. Получатель ожидает at-least-once.
type TrackingRefreshRequested struct {
	ShopID   string   `json:"shop_id"`
	OrderIDs []string `json:"order_ids"`
}

// SyncRequested — команда запустить синк магазина (альтернативный вход для
// планировщиков, мимо HTTP).
type SyncRequested struct {
	ShopID   string `json:"shop_id"`
	PageSize int    `json:"page_size,omitempty"`
}
