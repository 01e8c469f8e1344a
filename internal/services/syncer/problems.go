package syncer

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/BearBump/MarketSync/internal/services/mapper"
)

// Фиксированный словарь негативных сигналов в описаниях трекинга.
var transitProblemSignals = []string{
	"exception",
	"return to sender",
	"returned to sender",
	"delivery failed",
	"failed delivery",
	"delivery attempt failed",
	"unable to deliver",
	"undeliverable",
	"lost in transit",
	"parcel lost",
	"damaged",
	"seized",
	"refused by recipient",
}

func hasTransitProblem(description string) bool {
	low := strings.ToLower(description)
	for _, sig := range transitProblemSignals {
		if strings.Contains(low, sig) {
			return true
		}
	}
	return false
}

// syncOrderTimeline — охранник таймлайна для одного заказа, раз за проход:
//   - у заказа уже есть записи: сканируем их, при негативном сигнале помечаем
//     заказ, апстрим повторно НЕ спрашиваем;
//   - записей нет: один раз тянем события из источника; пустой или кривой
//     ответ — не ошибка и не повтор; непустой — сканируем и сохраняем.
//
// Ошибки логируются и не прерывают батч.
func (s *Syncer) syncOrderTimeline(ctx context.Context, req SyncRequest, orderID uint64, externalID string) {
	has, err := s.repo.HasTimelineEntries(ctx, orderID)
	if err != nil {
		slog.Warn("timeline existence check", "order_id", orderID, "error", err.Error())
		return
	}

	if has {
		entries, err := s.repo.ListTimelineEntries(ctx, orderID)
		if err != nil {
			slog.Warn("list timeline entries", "order_id", orderID, "error", err.Error())
			return
		}
		for _, e := range entries {
			if hasTransitProblem(e.Description) {
				s.markProblem(ctx, orderID)
				break
			}
		}
		return
	}

	s.throttle(ctx, req.Shop.ShopID, s.detailDelay)
	events, err := s.source.GetOrderTracking(ctx, req.Shop, externalID)
	if err != nil {
		slog.Warn("order tracking fetch failed", "order_id", orderID, "external_id", externalID, "error", err.Error())
		return
	}
	if len(events) == 0 {
		return
	}

	problem := false
	for _, e := range events {
		if hasTransitProblem(e.Description) {
			problem = true
			break
		}
	}
	if problem {
		s.markProblem(ctx, orderID)
	}

	entries := mapper.TimelineEntries(orderID, events)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Sequence != entries[j].Sequence {
			return entries[i].Sequence < entries[j].Sequence
		}
		return entries[i].OccurredAt.Before(entries[j].OccurredAt)
	})
	if err := s.repo.InsertTimelineEntries(ctx, entries); err != nil {
		slog.Warn("insert timeline entries", "order_id", orderID, "error", err.Error())
	}
}

func (s *Syncer) markProblem(ctx context.Context, orderID uint64) {
	if err := s.repo.SetOrderProblemInTransit(ctx, orderID); err != nil {
		slog.Warn("mark order problem in transit", "order_id", orderID, "error", err.Error())
	}
}
