package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/MarketSync/config"
	"github.com/BearBump/MarketSync/internal/cache"
	"github.com/BearBump/MarketSync/internal/integrations/marketplace"
	"github.com/BearBump/MarketSync/internal/integrations/marketplace/fake"
	"github.com/BearBump/MarketSync/internal/integrations/marketplace/openapihttp"
	"github.com/BearBump/MarketSync/internal/models"
	"github.com/BearBump/MarketSync/internal/services/syncer"
	"github.com/BearBump/MarketSync/internal/storage/pgorders"
	"github.com/stretchr/testify/require"
)

// stubRepo — репозиторий-заглушка: хватает путей, где до хранилища не доходит.
type stubRepo struct{}

func (stubRepo) FindOrderRefs(ctx context.Context, orgID string, externalIDs []string) ([]pgorders.OrderRef, error) {
	return nil, nil
}
func (stubRepo) BulkInsertOrders(ctx context.Context, orders []*models.Order) error { return nil }
func (stubRepo) UpdateOrder(ctx context.Context, o *models.Order) error             { return nil }
func (stubRepo) SetOrderProblemInTransit(ctx context.Context, orderID uint64) error { return nil }
func (stubRepo) ReplaceLineItems(ctx context.Context, orderIDs []uint64, items []*models.LineItem) error {
	return nil
}
func (stubRepo) ReplacePayments(ctx context.Context, orderIDs []uint64, payments []*models.Payment) error {
	return nil
}
func (stubRepo) ReplaceAddresses(ctx context.Context, orderIDs []uint64, addrs []*models.RecipientAddress) error {
	return nil
}
func (stubRepo) ReplacePackages(ctx context.Context, orderIDs []uint64, pkgs []*models.Package) error {
	return nil
}
func (stubRepo) ExistingTrackingKeys(ctx context.Context, orderIDs []uint64) (map[pgorders.TrackingKey]struct{}, error) {
	return map[pgorders.TrackingKey]struct{}{}, nil
}
func (stubRepo) InsertTrackingStates(ctx context.Context, states []*models.TrackingState) error {
	return nil
}
func (stubRepo) PackageRefsByOrderIDs(ctx context.Context, orderIDs []uint64) (map[pgorders.TrackingKey]uint64, error) {
	return map[pgorders.TrackingKey]uint64{}, nil
}
func (stubRepo) LinkTrackingStatePackage(ctx context.Context, key pgorders.TrackingKey, packageID uint64) error {
	return nil
}
func (stubRepo) HasTimelineEntries(ctx context.Context, orderID uint64) (bool, error) {
	return false, nil
}
func (stubRepo) ListTimelineEntries(ctx context.Context, orderID uint64) ([]*models.TimelineEntry, error) {
	return nil, nil
}
func (stubRepo) InsertTimelineEntries(ctx context.Context, entries []*models.TimelineEntry) error {
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		MarketSync: config.MarketSyncConfig{
			OrgID: "org-1",
			Shops: []config.ShopConfig{{ID: "shop-1", AccessToken: "tok", Cipher: "c"}},
		},
	}
}

func TestDefaultWorkerFactories_SelectSourceClient(t *testing.T) {
	f := defaultWorkerFactories()

	cfgHTTP := &config.Config{
		MarketSync: config.MarketSyncConfig{
			MarketplaceBaseURL: "http://localhost:9100",
			MarketplaceMode:    "openapi",
			MarketplaceAppKey:  "k",
		},
	}
	c1 := f.newSourceClient(cfgHTTP)
	_, ok := c1.(*openapihttp.Client)
	require.True(t, ok)

	cfgFallback := &config.Config{
		MarketSync: config.MarketSyncConfig{MarketplaceMode: "fake"},
	}
	c2 := f.newSourceClient(cfgFallback)
	_, ok = c2.(*fake.FakeClient)
	require.True(t, ok)
}

func TestDefaultWorkerFactories_BrokerAndRedis_NonNil(t *testing.T) {
	f := defaultWorkerFactories()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
	}
	require.NotNil(t, f.newProducer(cfg))
	require.NotNil(t, f.newConsumer(cfg, "t"))
	require.NotNil(t, f.newRateLimiter(cfg))
	require.NotNil(t, f.newCache(cfg))
}

func TestRunSyncWorker_ContextCanceled(t *testing.T) {
	calledClose := false

	f := workerFactories{
		newStorage: func(cfg *config.Config) (syncer.Repository, func(), error) {
			return stubRepo{}, func() { calledClose = true }, nil
		},
		newProducer:     func(cfg *config.Config) syncer.Producer { return nil },
		newRateLimiter:  func(cfg *config.Config) syncer.RateLimiter { return nil },
		newCache:        func(cfg *config.Config) cache.BytesCache { return nil },
		newSourceClient: func(cfg *config.Config) marketplace.Client { return fake.New() },
	}

	cfg := testConfig()
	cfg.MarketSync.HTTPAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunSyncWorker(ctx, cfg, f)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, calledClose)
}

// scriptedConsumer: первый Consume падает как при отказе брокера, второй
// доставляет команду и завершает по отменённому контексту.
type scriptedConsumer struct {
	calls      int
	closed     bool
	cancel     context.CancelFunc
	handlerErr error
}

func (c *scriptedConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	c.calls++
	if c.calls == 1 {
		return errors.New("broker down")
	}
	c.handlerErr = handler([]byte("shop-1"), []byte(`{"shop_id":"shop-1"}`))
	c.cancel()
	return ctx.Err()
}

func (c *scriptedConsumer) Close() error {
	c.closed = true
	return nil
}

func TestConsumeSyncCommands_RestartsAfterError(t *testing.T) {
	old := consumerRestartDelay
	consumerRestartDelay = time.Millisecond
	defer func() { consumerRestartDelay = old }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fc := &scriptedConsumer{cancel: cancel}
	s := syncer.New(stubRepo{}, fake.New(), nil, nil, "t").
		WithSettings(50, 100, 0, 0, 0, 0)

	consumeSyncCommands(ctx, testConfig(), fc, s)

	require.Equal(t, 2, fc.calls) // после отказа брокера цикл перезапустился
	require.NoError(t, fc.handlerErr)
	require.True(t, fc.closed)
}

func testRouter(cfg *config.Config) http.Handler {
	s := syncer.New(stubRepo{}, fake.New(), nil, nil, "t").
		WithSettings(50, 100, 0, 0, 0, 0)
	return newWorkerRouter(workerHTTPOpts{syncer: s, cfg: cfg})
}

func TestSyncHandler_RequiresShopID(t *testing.T) {
	r := testRouter(testConfig())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sync", bytes.NewBufferString(`{"sync":true}`))
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "shopId")
}

func TestSyncHandler_UnknownShop(t *testing.T) {
	r := testRouter(testConfig())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sync", bytes.NewBufferString(`{"shopId":"nope"}`))
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown shop")
}

func TestSyncHandler_PreviewReturnsRawPage(t *testing.T) {
	r := testRouter(testConfig())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sync", bytes.NewBufferString(`{"shopId":"shop-1","sync":false}`))
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, json.Valid(rec.Body.Bytes()))
}

func TestSyncHandler_SyncReturnsCounts(t *testing.T) {
	r := testRouter(testConfig())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sync", bytes.NewBufferString(`{"shopId":"shop-1","sync":true}`))
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var res syncer.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, 5, res.OrdersProcessed)
	require.Equal(t, 1, res.PagesProcessed)
}

func TestHealthEndpoints(t *testing.T) {
	r := newWorkerRouter(workerHTTPOpts{cfg: testConfig()})

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}
