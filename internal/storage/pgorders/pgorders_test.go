package pgorders

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/MarketSync/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPGOrders_RepoFlow(t *testing.T) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "marketsync_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/marketsync_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	now := time.Now().UTC()
	org := "org-1"

	// Вставка по натуральному ключу + повторная вставка с конфликтом.
	err = st.BulkInsertOrders(ctx, []*models.Order{
		{OrgID: org, ShopID: "shop-1", ExternalID: "O1", Status: models.OrderStatusProcessing, CreatedTime: &now, ChannelData: models.ChannelData{"buyer": "b-1"}},
		{OrgID: org, ShopID: "shop-1", ExternalID: "O2", Status: models.OrderStatusCompleted},
	})
	require.NoError(t, err)

	refs, err := st.FindOrderRefs(ctx, org, []string{"O1", "O2", "O3"})
	require.NoError(t, err)
	require.Len(t, refs, 2)

	byExt := map[string]OrderRef{}
	for _, r := range refs {
		byExt[r.ExternalID] = r
	}
	o1 := byExt["O1"].ID
	o2 := byExt["O2"].ID
	require.NotZero(t, o1)

	err = st.BulkInsertOrders(ctx, []*models.Order{
		{OrgID: org, ShopID: "shop-1", ExternalID: "O1", Status: models.OrderStatusCancelled}, // конфликт: игнор
		{OrgID: org, ShopID: "shop-1", ExternalID: "O3", Status: models.OrderStatusUnknown},
	})
	require.NoError(t, err)

	refs, err = st.FindOrderRefs(ctx, org, []string{"O1", "O2", "O3"})
	require.NoError(t, err)
	require.Len(t, refs, 3)
	for _, r := range refs {
		if r.ExternalID == "O1" {
			require.Equal(t, o1, r.ID)
			require.Equal(t, models.OrderStatusProcessing, r.Status)
		}
	}

	// Апдейт шапки не трогает problem_in_transit.
	require.NoError(t, st.SetOrderProblemInTransit(ctx, o1))
	require.NoError(t, st.UpdateOrder(ctx, &models.Order{
		OrgID: org, ShopID: "shop-1", ExternalID: "O1", Status: models.OrderStatusCompleted,
	}))

	var status string
	var problem bool
	err = st.db.QueryRow(ctx, `SELECT status, problem_in_transit FROM orders WHERE id = $1`, o1).Scan(&status, &problem)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusCompleted, status)
	require.True(t, problem)

	// Replace-семантика: снапшот целиком, а не merge.
	err = st.ReplaceLineItems(ctx, []uint64{o1}, []*models.LineItem{
		{OrderID: o1, ExternalID: "L1", Name: "a", Price: "1.00"},
		{OrderID: o1, ExternalID: "L2", Name: "b", Price: "2.00"},
		{OrderID: o1, ExternalID: "L3", Name: "c", Price: "3.00"},
	})
	require.NoError(t, err)

	err = st.ReplaceLineItems(ctx, []uint64{o1}, []*models.LineItem{
		{OrderID: o1, ExternalID: "L1", Name: "a", Price: "1.00"},
	})
	require.NoError(t, err)

	var liCount int
	require.NoError(t, st.db.QueryRow(ctx, `SELECT count(*) FROM order_line_items WHERE order_id = $1`, o1).Scan(&liCount))
	require.Equal(t, 1, liCount)

	require.NoError(t, st.ReplacePayments(ctx, []uint64{o1}, []*models.Payment{
		{OrderID: o1, Currency: "USD", Total: "6.00", Subtotal: "5.00", Tax: "1.00"},
	}))

	err = st.ReplaceAddresses(ctx, []uint64{o1}, []*models.RecipientAddress{
		{
			OrderID:     o1,
			FullAddress: "1 Main St, Springfield",
			Name:        "Recipient",
			Districts: []models.AddressDistrict{
				{Level: 0, Name: "US"},
				{Level: 1, Name: "IL"},
			},
		},
	})
	require.NoError(t, err)

	var districts int
	require.NoError(t, st.db.QueryRow(ctx, `
SELECT count(*) FROM address_districts d
JOIN order_addresses a ON a.id = d.address_id
WHERE a.order_id = $1`, o1).Scan(&districts))
	require.Equal(t, 2, districts)

	tn1 := "TN-1"
	require.NoError(t, st.ReplacePackages(ctx, []uint64{o1, o2}, []*models.Package{
		{OrderID: o1, ExternalID: "P1", TrackingNumber: &tn1, Status: "SHIPPED"},
		{OrderID: o2, ExternalID: "P2", TrackingNumber: &tn1, Status: "SHIPPED"},
		{OrderID: o2, ExternalID: "P3"}, // без трек-номера
	}))

	pkgRefs, err := st.PackageRefsByOrderIDs(ctx, []uint64{o1, o2})
	require.NoError(t, err)
	require.Len(t, pkgRefs, 2)
	require.Contains(t, pkgRefs, TrackingKey{OrderID: o1, TrackingNumber: tn1})

	// Состояния трекинга: один и тот же номер у двух заказов — две записи;
	// повтор по той же паре гасится уникальным индексом.
	states := []*models.TrackingState{
		{OrgID: org, OrderID: o1, TrackingNumber: tn1, Status: "SHIPPED"},
		{OrgID: org, OrderID: o2, TrackingNumber: tn1, Status: "SHIPPED"},
	}
	require.NoError(t, st.InsertTrackingStates(ctx, states))
	require.NoError(t, st.InsertTrackingStates(ctx, states))

	keys, err := st.ExistingTrackingKeys(ctx, []uint64{o1, o2})
	require.NoError(t, err)
	require.Len(t, keys, 2)

	var stCount int
	require.NoError(t, st.db.QueryRow(ctx, `SELECT count(*) FROM fulfillment_tracking_states`).Scan(&stCount))
	require.Equal(t, 2, stCount)

	k := TrackingKey{OrderID: o1, TrackingNumber: tn1}
	require.NoError(t, st.LinkTrackingStatePackage(ctx, k, pkgRefs[k]))

	var linked *int64
	require.NoError(t, st.db.QueryRow(ctx,
		`SELECT package_id FROM fulfillment_tracking_states WHERE order_id = $1 AND tracking_number = $2`,
		o1, tn1).Scan(&linked))
	require.NotNil(t, linked)

	// Таймлайн: выдача упорядочена по sequence.
	has, err := st.HasTimelineEntries(ctx, o1)
	require.NoError(t, err)
	require.False(t, has)

	evTime := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.InsertTimelineEntries(ctx, []*models.TimelineEntry{
		{OrderID: o1, Description: "Out for delivery", Sequence: 2, OccurredAt: evTime.Add(time.Hour), Source: "marketplace"},
		{OrderID: o1, Description: "Picked up", Sequence: 1, OccurredAt: evTime, Source: "marketplace"},
	}))

	has, err = st.HasTimelineEntries(ctx, o1)
	require.NoError(t, err)
	require.True(t, has)

	entries, err := st.ListTimelineEntries(ctx, o1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "Picked up", entries[0].Description)
	require.WithinDuration(t, evTime, entries[0].OccurredAt, time.Second)
}
