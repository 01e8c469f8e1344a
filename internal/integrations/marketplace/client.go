package marketplace

import (
	"context"
	"encoding/json"
)

// ShopCredential — учётные данные магазина для вызовов открытого API площадки.
// Cipher — непрозрачный токен, выдаваемый хранилищем учётных данных (вне зоны
// ответственности этого сервиса).
type ShopCredential struct {
	ShopID      string
	AccessToken string
	Cipher      string
}

type OrderFilter struct {
	StatusIn      []string
	CreatedAfter  int64
	CreatedBefore int64
	UpdatedAfter  int64
	UpdatedBefore int64
	ShippingType  string
	BuyerUserID   string
	WarehouseIDs  []string
}

type OrderQuery struct {
	PageSize      int
	PageToken     string
	SortBy        string
	SortDirection string
	Filter        OrderFilter
}

// OrderPage — одна страница выдачи. NextPageToken пустой на последней странице.
// Raw сохраняет исходный ответ площадки для режима предпросмотра.
type OrderPage struct {
	Orders        []OrderRecord
	NextPageToken string
	Raw           json.RawMessage
}

// OrderRecord — сырой заказ площадки. Схема версионируется источником, поэтому
// отсутствующие поля остаются нулевыми, а непромоутнутые — в Extra.
type OrderRecord struct {
	ID          string
	Status      string
	TotalAmount string
	Currency    string

	CreateTime   int64
	UpdateTime   int64
	PaidTime     int64
	DeliveryTime int64

	CollectionDueTime int64
	ShippingDueTime   int64
	DeliveryDueTime   int64

	BuyerUserID  string
	ShippingType string

	LineItems        []LineItemRecord
	Payment          *PaymentRecord
	RecipientAddress *AddressRecord
	Packages         []PackageRecord

	Extra map[string]any
}

type LineItemRecord struct {
	ID        string
	ProductID string
	SkuID     string
	Name      string
	Price     string
	Currency  string
	PackageID string
	Extra     map[string]any
}

type PaymentRecord struct {
	Currency string
	Total    string
	Subtotal string
	Tax      string
	Extra    map[string]any
}

type AddressRecord struct {
	FullAddress string
	Name        string
	Phone       string
	PostalCode  string
	Districts   []DistrictRecord
	Extra       map[string]any
}

type DistrictRecord struct {
	Level int
	Name  string
}

type PackageRecord struct {
	ID             string
	TrackingNumber string
	ProviderName   string
	ProviderType   string
	ServiceLevel   string
	Status         string
	LineItemIDs    []string
	Extra          map[string]any
}

type PackageDetail struct {
	ID             string
	TrackingNumber string
	ProviderName   string
	ProviderType   string
	ServiceLevel   string
	Status         string
	Raw            map[string]any
}

type TrackingEventRecord struct {
	Description string
	Sequence    int
	EventTime   int64
	Source      string
}

type Client interface {
	ListOrders(ctx context.Context, cred ShopCredential, q OrderQuery) (OrderPage, error)
	GetPackageDetail(ctx context.Context, cred ShopCredential, packageID string) (PackageDetail, error)
	GetOrderTracking(ctx context.Context, cred ShopCredential, orderID string) ([]TrackingEventRecord, error)
}
