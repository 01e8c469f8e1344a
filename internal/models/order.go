package models

import "time"

// Нормализованные статусы заказа (свободная строка от площадки, можно расширять).
const (
	OrderStatusUnknown    = "UNKNOWN"
	OrderStatusProcessing = "PROCESSING"
	OrderStatusCompleted  = "COMPLETED"
	OrderStatusCancelled  = "CANCELLED"
)

// ChannelData хранит поля источника, не продвинутые в нормализованную схему.
// Сериализуется в JSONB только на границе хранилища.
type ChannelData = map[string]any

type Order struct {
	ID         uint64
	OrgID      string
	ShopID     string
	ExternalID string

	Status      string
	TotalAmount string
	Currency    string

	CreatedTime  *time.Time
	UpdatedTime  *time.Time
	PaidTime     *time.Time
	DeliveryTime *time.Time

	// SLA-дедлайны площадки.
	CollectionDueAt *time.Time
	ShippingDueAt   *time.Time
	DeliveryDueAt   *time.Time

	ProblemInTransit bool

	ChannelData ChannelData

	CreatedAt time.Time
	UpdatedAt time.Time
}

type LineItem struct {
	ID         uint64
	OrderID    uint64
	ExternalID string
	ProductID  string
	SkuID      string
	Name       string
	Price      string
	Currency   string
	ChannelData ChannelData
}

type Payment struct {
	ID       uint64
	OrderID  uint64
	Currency string
	Total    string
	Subtotal string
	Tax      string
	ChannelData ChannelData
}

type RecipientAddress struct {
	ID          uint64
	OrderID     uint64
	FullAddress string
	Name        string
	Phone       string
	PostalCode  string
	Districts   []AddressDistrict
	ChannelData ChannelData
}

type AddressDistrict struct {
	ID        uint64
	AddressID uint64
	Level     int
	Name      string
}

type Package struct {
	ID           uint64
	OrderID      uint64
	ExternalID   string
	ProviderName string
	ProviderType string
	ServiceLevel string
	Status       string
	TrackingNumber *string
	ChannelData  ChannelData
}

// TrackingState — собственная запись движка о том, что пара (заказ, трек-номер)
// отслеживается. Создаётся не более одного раза за всё время жизни пары.
type TrackingState struct {
	ID             uint64
	OrgID          string
	OrderID        uint64
	TrackingNumber string
	ProviderName   string
	ProviderType   string
	ServiceLevel   string
	Status         string
	PackageID      *uint64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TimelineEntry — одно историческое событие трекинга заказа.
type TimelineEntry struct {
	ID          uint64
	OrderID     uint64
	Description string
	Sequence    int
	OccurredAt  time.Time
	Source      string
	CreatedAt   time.Time
}
