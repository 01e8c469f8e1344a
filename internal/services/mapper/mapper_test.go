package mapper

import (
	"testing"
	"time"

	"github.com/BearBump/MarketSync/internal/integrations/marketplace"
	"github.com/stretchr/testify/require"
)

func TestOrder_Defaults(t *testing.T) {
	o := Order("org-1", "shop-1", marketplace.OrderRecord{ID: "O1"})
	require.Equal(t, "org-1", o.OrgID)
	require.Equal(t, "shop-1", o.ShopID)
	require.Equal(t, "O1", o.ExternalID)
	require.Equal(t, "UNKNOWN", o.Status)
	require.Nil(t, o.CreatedTime)
	require.Nil(t, o.DeliveryDueAt)
}

func TestOrder_TimesAndChannelData(t *testing.T) {
	o := Order("org-1", "shop-1", marketplace.OrderRecord{
		ID:              "O1",
		Status:          "COMPLETED",
		CreateTime:      1700000000,
		DeliveryDueTime: 1700100000,
		BuyerUserID:     "B9",
		ShippingType:    "SELLER",
		Extra:           map[string]any{"split_or_combine_tag": "SPLIT"},
	})
	require.Equal(t, "COMPLETED", o.Status)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), *o.CreatedTime)
	require.Equal(t, time.Unix(1700100000, 0).UTC(), *o.DeliveryDueAt)
	require.Equal(t, "B9", o.ChannelData["buyer_user_id"])
	require.Equal(t, "SELLER", o.ChannelData["shipping_type"])
	require.Equal(t, "SPLIT", o.ChannelData["split_or_combine_tag"])
}

func TestPackage_TrimsTrackingNumber(t *testing.T) {
	rec := marketplace.OrderRecord{ID: "O1"}

	p := Package(7, rec, marketplace.PackageRecord{ID: "PK1", TrackingNumber: "  TN-1  "}, nil)
	require.NotNil(t, p.TrackingNumber)
	require.Equal(t, "TN-1", *p.TrackingNumber)

	p = Package(7, rec, marketplace.PackageRecord{ID: "PK2", TrackingNumber: "   "}, nil)
	require.Nil(t, p.TrackingNumber)
}

func TestPackage_DetailEnrichment(t *testing.T) {
	rec := marketplace.OrderRecord{ID: "O1"}
	detail := &marketplace.PackageDetail{
		TrackingNumber: "TN-9",
		ProviderName:   "ACME",
		ProviderType:   "COURIER",
		Status:         "SHIPPED",
		Raw:            map[string]any{"weight": "1kg"},
	}

	p := Package(7, rec, marketplace.PackageRecord{ID: "PK1"}, detail)
	require.Equal(t, "TN-9", *p.TrackingNumber)
	require.Equal(t, "ACME", p.ProviderName)
	require.Equal(t, true, p.ChannelData["detail_fetched"])
	require.Equal(t, detail.Raw, p.ChannelData["detail"])
}

func TestPackage_DetailFetchFailedKeepsRow(t *testing.T) {
	p := Package(7, marketplace.OrderRecord{ID: "O1"}, marketplace.PackageRecord{ID: "PK1", TrackingNumber: "TN-1"}, nil)
	require.Equal(t, false, p.ChannelData["detail_fetched"])
	require.Equal(t, "TN-1", *p.TrackingNumber)
}

func TestPackage_LineItemFallback(t *testing.T) {
	rec := marketplace.OrderRecord{
		ID: "O1",
		LineItems: []marketplace.LineItemRecord{
			{ID: "L1"}, {ID: "L2"},
		},
	}

	// Без явной привязки пакет относится ко всем позициям заказа.
	p := Package(7, rec, marketplace.PackageRecord{ID: "PK1"}, nil)
	require.Equal(t, []string{"L1", "L2"}, p.ChannelData["line_item_ids"])

	p = Package(7, rec, marketplace.PackageRecord{ID: "PK2", LineItemIDs: []string{"L2"}}, nil)
	require.Equal(t, []string{"L2"}, p.ChannelData["line_item_ids"])
}

func TestPaymentAndAddress_NilWhenAbsent(t *testing.T) {
	rec := marketplace.OrderRecord{ID: "O1"}
	require.Nil(t, Payment(7, rec))
	require.Nil(t, Address(7, rec))
}

func TestAddress_Districts(t *testing.T) {
	rec := marketplace.OrderRecord{
		ID: "O1",
		RecipientAddress: &marketplace.AddressRecord{
			FullAddress: "1 Main St",
			Districts: []marketplace.DistrictRecord{
				{Level: 1, Name: "Province"},
				{Level: 2, Name: "City"},
			},
		},
	}
	a := Address(7, rec)
	require.NotNil(t, a)
	require.Len(t, a.Districts, 2)
	require.Equal(t, "City", a.Districts[1].Name)
}

func TestTimelineEntries(t *testing.T) {
	entries := TimelineEntries(7, []marketplace.TrackingEventRecord{
		{Description: "picked up", Sequence: 1, EventTime: 1700000000, Source: "carrier"},
		{Description: "no time", Sequence: 2},
	})
	require.Len(t, entries, 2)
	require.Equal(t, uint64(7), entries[0].OrderID)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), entries[0].OccurredAt)
	require.False(t, entries[1].OccurredAt.IsZero())
}
