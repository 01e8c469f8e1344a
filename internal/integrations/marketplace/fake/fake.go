package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/BearBump/MarketSync/internal/integrations/marketplace"
)

// FakeClient — детерминированная заглушка площадки для локальной разработки.
// Генерирует одну страницу заказов; статусы выводятся из хэша id магазина.
type FakeClient struct {
	orders int
}

func New() *FakeClient { return &FakeClient{orders: 5} }

func (f *FakeClient) ListOrders(ctx context.Context, cred marketplace.ShopCredential, q marketplace.OrderQuery) (marketplace.OrderPage, error) {
	now := time.Now().UTC().Unix()

	n := f.orders
	if q.PageSize > 0 && q.PageSize < n {
		n = q.PageSize
	}

	var page marketplace.OrderPage
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-ORD-%d", cred.ShopID, i+1)

		h := fnv.New32a()
		_, _ = h.Write([]byte(id))
		v := h.Sum32()

		status := "PROCESSING"
		if v%4 == 0 {
			status = "COMPLETED"
		}

		page.Orders = append(page.Orders, marketplace.OrderRecord{
			ID:          id,
			Status:      status,
			TotalAmount: fmt.Sprintf("%d.00", 10+i),
			Currency:    "USD",
			CreateTime:  now - int64(i)*3600,
			UpdateTime:  now,
			LineItems: []marketplace.LineItemRecord{
				{ID: id + "-L1", ProductID: "PRD-1", SkuID: "SKU-1", Name: "demo item", Price: "10.00", Currency: "USD"},
			},
			Payment: &marketplace.PaymentRecord{Currency: "USD", Total: "10.00", Subtotal: "9.00", Tax: "1.00"},
			RecipientAddress: &marketplace.AddressRecord{
				FullAddress: "1 Demo St",
				Name:        "Demo Buyer",
				PostalCode:  "00000",
				Districts:   []marketplace.DistrictRecord{{Level: 1, Name: "Demo Region"}},
			},
			Packages: []marketplace.PackageRecord{
				{ID: id + "-PK1", TrackingNumber: fmt.Sprintf("TN-%d", v), ProviderName: "FAKE_EXPRESS", Status: "SHIPPED"},
			},
		})
	}
	return page, nil
}

func (f *FakeClient) GetPackageDetail(ctx context.Context, cred marketplace.ShopCredential, packageID string) (marketplace.PackageDetail, error) {
	return marketplace.PackageDetail{
		ID:           packageID,
		ProviderName: "FAKE_EXPRESS",
		ProviderType: "COURIER",
		Status:       "SHIPPED",
		Raw:          map[string]any{"id": packageID, "emulated": true},
	}, nil
}

func (f *FakeClient) GetOrderTracking(ctx context.Context, cred marketplace.ShopCredential, orderID string) ([]marketplace.TrackingEventRecord, error) {
	now := time.Now().UTC().Unix()
	return []marketplace.TrackingEventRecord{
		{Description: "Package picked up by carrier", Sequence: 1, EventTime: now - 7200, Source: "fake"},
		{Description: "Package in transit", Sequence: 2, EventTime: now - 3600, Source: "fake"},
	}, nil
}
