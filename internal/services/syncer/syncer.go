package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/MarketSync/internal/cache"
	"github.com/BearBump/MarketSync/internal/integrations/marketplace"
	"github.com/BearBump/MarketSync/internal/models"
	"github.com/BearBump/MarketSync/internal/storage/pgorders"
	"github.com/pkg/errors"
)

type Repository interface {
	FindOrderRefs(ctx context.Context, orgID string, externalIDs []string) ([]pgorders.OrderRef, error)
	BulkInsertOrders(ctx context.Context, orders []*models.Order) error
	UpdateOrder(ctx context.Context, o *models.Order) error
	SetOrderProblemInTransit(ctx context.Context, orderID uint64) error

	ReplaceLineItems(ctx context.Context, orderIDs []uint64, items []*models.LineItem) error
	ReplacePayments(ctx context.Context, orderIDs []uint64, payments []*models.Payment) error
	ReplaceAddresses(ctx context.Context, orderIDs []uint64, addrs []*models.RecipientAddress) error
	ReplacePackages(ctx context.Context, orderIDs []uint64, pkgs []*models.Package) error

	ExistingTrackingKeys(ctx context.Context, orderIDs []uint64) (map[pgorders.TrackingKey]struct{}, error)
	InsertTrackingStates(ctx context.Context, states []*models.TrackingState) error
	PackageRefsByOrderIDs(ctx context.Context, orderIDs []uint64) (map[pgorders.TrackingKey]uint64, error)
	LinkTrackingStatePackage(ctx context.Context, key pgorders.TrackingKey, packageID uint64) error

	HasTimelineEntries(ctx context.Context, orderID uint64) (bool, error)
	ListTimelineEntries(ctx context.Context, orderID uint64) ([]*models.TimelineEntry, error)
	InsertTimelineEntries(ctx context.Context, entries []*models.TimelineEntry) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type SyncRequest struct {
	OrgID    string
	Shop     marketplace.ShopCredential
	Filter   marketplace.OrderFilter
	PageSize int
}

type SyncResult struct {
	OrdersProcessed int `json:"ordersProcessed"`
	PagesProcessed  int `json:"pagesProcessed"`
}

type Syncer struct {
	repo     Repository
	source   marketplace.Client
	producer Producer
	rl       RateLimiter

	topic string

	previewCache cache.BytesCache
	previewTTL   time.Duration

	batchSize   int
	pageSize    int
	pageDelay   time.Duration
	batchDelay  time.Duration
	detailDelay time.Duration
	rateLimitPerMinute int64

	// Один воркер выполняет один прогон синка целиком; конкурентные запросы
	// того же воркера сериализуются здесь.
	runMu sync.Mutex

	startedAtUnixNano int64
	lastSyncUnixNano  atomic.Int64
	totalOrders       atomic.Int64
	totalPages        atomic.Int64
	totalBatches      atomic.Int64
	totalErrors       atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(repo Repository, source marketplace.Client, producer Producer, rl RateLimiter, topic string) *Syncer {
	return &Syncer{
		repo: repo, source: source, producer: producer, rl: rl, topic: topic,
		batchSize:          50,
		pageSize:           100,
		pageDelay:          500 * time.Millisecond,
		batchDelay:         time.Second,
		detailDelay:        200 * time.Millisecond,
		rateLimitPerMinute: 60,
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (s *Syncer) WithSettings(batchSize, pageSize int, pageDelay, batchDelay, detailDelay time.Duration, rlPerMin int64) *Syncer {
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	if pageSize > 0 {
		s.pageSize = pageSize
	}
	if pageDelay >= 0 {
		s.pageDelay = pageDelay
	}
	if batchDelay >= 0 {
		s.batchDelay = batchDelay
	}
	if detailDelay >= 0 {
		s.detailDelay = detailDelay
	}
	if rlPerMin > 0 {
		s.rateLimitPerMinute = rlPerMin
	}
	return s
}

func (s *Syncer) WithPreviewCache(c cache.BytesCache, ttl time.Duration) *Syncer {
	s.previewCache = c
	s.previewTTL = ttl
	return s
}

type Stats struct {
	StartedAt    time.Time  `json:"startedAt"`
	LastSyncAt   *time.Time `json:"lastSyncAt,omitempty"`
	TotalOrders  int64      `json:"totalOrders"`
	TotalPages   int64      `json:"totalPages"`
	TotalBatches int64      `json:"totalBatches"`
	TotalErrors  int64      `json:"totalErrors"`
	LastError    string     `json:"lastError,omitempty"`
}

func (s *Syncer) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalOrders:  s.totalOrders.Load(),
		TotalPages:   s.totalPages.Load(),
		TotalBatches: s.totalBatches.Load(),
		TotalErrors:  s.totalErrors.Load(),
	}
	if n := s.lastSyncUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastSyncAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

// Sync выкачивает все страницы источника, затем прогоняет заказы батчами через
// reconciliation. Ошибка страницы не фатальна (частичный результат сохраняем),
// ошибка батча всплывает наружу — оставшиеся батчи этого прогона не выполняются.
func (s *Syncer) Sync(ctx context.Context, req SyncRequest) (SyncResult, error) {
	if req.Shop.ShopID == "" {
		return SyncResult{}, errors.New("shopId is required")
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.lastSyncUnixNano.Store(time.Now().UTC().UnixNano())

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = s.pageSize
	}

	var all []marketplace.OrderRecord
	pages := 0
	token := ""
	for {
		page, err := s.source.ListOrders(ctx, req.Shop, marketplace.OrderQuery{
			PageSize:      pageSize,
			PageToken:     token,
			SortBy:        "create_time",
			SortDirection: "DESC",
			Filter:        req.Filter,
		})
		if err != nil {
			// Частичный синк лучше полного отказа: уже полученные страницы
			// продолжают обрабатываться.
			slog.Error("list orders page", "shop_id", req.Shop.ShopID, "page", pages+1, "error", err.Error())
			s.noteError(err)
			break
		}
		pages++
		all = append(all, page.Orders...)
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
		s.throttle(ctx, req.Shop.ShopID, s.pageDelay)
	}

	res := SyncResult{PagesProcessed: pages}
	for start := 0; start < len(all); start += s.batchSize {
		end := start + s.batchSize
		if end > len(all) {
			end = len(all)
		}

		if err := s.processBatch(ctx, req, all[start:end]); err != nil {
			s.totalErrors.Add(1)
			s.noteError(err)
			return res, errors.Wrap(err, "process batch")
		}
		res.OrdersProcessed += end - start
		s.totalBatches.Add(1)

		if end < len(all) && s.batchDelay > 0 {
			time.Sleep(s.batchDelay)
		}
	}

	s.totalOrders.Add(int64(res.OrdersProcessed))
	s.totalPages.Add(int64(pages))
	return res, nil
}

// Preview — режим только для чтения: первая страница источника как есть,
// без записи в хранилище. Ответ ненадолго кэшируется.
func (s *Syncer) Preview(ctx context.Context, req SyncRequest) (json.RawMessage, error) {
	if req.Shop.ShopID == "" {
		return nil, errors.New("shopId is required")
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = s.pageSize
	}

	key := previewCacheKey(req.Shop.ShopID, pageSize, req.Filter)
	if s.previewCache != nil && s.previewTTL > 0 {
		if b, ok, err := s.previewCache.Get(ctx, key); err == nil && ok {
			return b, nil
		}
	}

	page, err := s.source.ListOrders(ctx, req.Shop, marketplace.OrderQuery{
		PageSize:      pageSize,
		SortBy:        "create_time",
		SortDirection: "DESC",
		Filter:        req.Filter,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list orders preview")
	}

	raw := page.Raw
	if len(raw) == 0 {
		raw, err = json.Marshal(page)
		if err != nil {
			return nil, errors.Wrap(err, "marshal preview")
		}
	}

	if s.previewCache != nil && s.previewTTL > 0 {
		_ = s.previewCache.Set(ctx, key, raw, s.previewTTL)
	}
	return raw, nil
}

// previewCacheKey включает дайджест фильтра: предпросмотры одного магазина с
// разными фильтрами не должны делить запись кэша.
func previewCacheKey(shopID string, pageSize int, f marketplace.OrderFilter) string {
	h := fnv.New64a()
	b, _ := json.Marshal(f)
	_, _ = h.Write(b)
	return fmt.Sprintf("preview:%s:%d:%x", shopID, pageSize, h.Sum64())
}

// throttle — кооперативный бэкофф перед очередным вызовом источника: счётчик
// в минутном окне плюс небольшая фиксированная пауза.
func (s *Syncer) throttle(ctx context.Context, shopID string, delay time.Duration) {
	if s.rl != nil && s.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:marketplace:%s:%s", shopID, time.Now().UTC().Format("200601021504"))
		allowed, n, err := s.rl.Allow(ctx, minuteKey, s.rateLimitPerMinute, 70*time.Second)
		if err == nil && !allowed {
			slog.Warn("marketplace rate limit exceeded", "shop_id", shopID, "count", n)
			time.Sleep(500 * time.Millisecond)
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
}

func (s *Syncer) noteError(err error) {
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}
