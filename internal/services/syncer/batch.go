package syncer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/BearBump/MarketSync/internal/broker/messages"
	"github.com/BearBump/MarketSync/internal/integrations/marketplace"
	"github.com/BearBump/MarketSync/internal/models"
	"github.com/BearBump/MarketSync/internal/services/mapper"
	"github.com/BearBump/MarketSync/internal/storage/pgorders"
	"github.com/pkg/errors"
)

// processBatch сверяет один батч сырых заказов с хранилищем. Порядок шагов
// фиксирован: классификация, upsert шапок, повторное разрешение id, fan-out
// зависимых сущностей, replace-снапшоты, дедупликация и вставка состояний
// трекинга, обратная ссылка на пакет, нотификация даунстрима, обход таймлайнов.
// Батч не обёрнут транзакцией: повтор после сбоя безопасен за счёт натуральных
// ключей и идемпотентной вставки состояний.
func (s *Syncer) processBatch(ctx context.Context, req SyncRequest, batch []marketplace.OrderRecord) error {
	// Дубль внешнего id внутри батча возможен при дрейфе пагинации; берём
	// первое вхождение, иначе replace-шаг вставит зависимые строки дважды.
	ids := make([]string, 0, len(batch))
	seenIDs := make(map[string]struct{}, len(batch))
	uniq := make([]marketplace.OrderRecord, 0, len(batch))
	for _, rec := range batch {
		if rec.ID == "" {
			slog.Warn("order record without id skipped", "shop_id", req.Shop.ShopID)
			continue
		}
		if _, ok := seenIDs[rec.ID]; ok {
			continue
		}
		seenIDs[rec.ID] = struct{}{}
		uniq = append(uniq, rec)
		ids = append(ids, rec.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	batch = uniq

	// Шаг 1: классификация новых и существующих по натуральному ключу.
	refs, err := s.repo.FindOrderRefs(ctx, req.OrgID, ids)
	if err != nil {
		return errors.Wrap(err, "classify batch")
	}
	existing := make(map[string]pgorders.OrderRef, len(refs))
	for _, r := range refs {
		existing[r.ExternalID] = r
	}

	var toInsert, toUpdate []*models.Order
	statusChanged := 0
	for _, rec := range batch {
		o := mapper.Order(req.OrgID, req.Shop.ShopID, rec)
		ref, ok := existing[rec.ID]
		if !ok {
			toInsert = append(toInsert, o)
			continue
		}
		if ref.Status != o.Status {
			statusChanged++
		}
		toUpdate = append(toUpdate, o)
	}
	if statusChanged > 0 {
		// Сигнал пока только считаем; потребителя у него ещё нет.
		slog.Debug("order status transitions in batch", "shop_id", req.Shop.ShopID, "count", statusChanged)
	}

	// Шаг 2: сперва шапки заказов, чтобы у зависимых сущностей был order id.
	if err := s.repo.BulkInsertOrders(ctx, toInsert); err != nil {
		return errors.Wrap(err, "insert orders")
	}
	for _, o := range toUpdate {
		if err := s.repo.UpdateOrder(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
	}

	// Шаг 3: id разрешаем повторным запросом — bulk insert не обязан надёжно
	// возвращать сгенерированные ключи.
	refs, err = s.repo.FindOrderRefs(ctx, req.OrgID, ids)
	if err != nil {
		return errors.Wrap(err, "resolve order ids")
	}
	idByExternal := make(map[string]uint64, len(refs))
	for _, r := range refs {
		idByExternal[r.ExternalID] = r.ID
	}

	// Шаг 4: fan-out зависимых сущностей; детали пакетов тянем инлайн с
	// терпимостью к отказу каждого отдельного пакета.
	var (
		lineItems []*models.LineItem
		payments  []*models.Payment
		addrs     []*models.RecipientAddress
		pkgs      []*models.Package
	)
	affected := make([]uint64, 0, len(batch))
	externalByID := make(map[uint64]string, len(batch))
	for _, rec := range batch {
		orderID, ok := idByExternal[rec.ID]
		if !ok {
			continue
		}
		affected = append(affected, orderID)
		externalByID[orderID] = rec.ID

		lineItems = append(lineItems, mapper.LineItems(orderID, rec)...)
		if p := mapper.Payment(orderID, rec); p != nil {
			payments = append(payments, p)
		}
		if a := mapper.Address(orderID, rec); a != nil {
			addrs = append(addrs, a)
		}
		for _, pr := range rec.Packages {
			detail := s.fetchPackageDetail(ctx, req, pr.ID)
			pkgs = append(pkgs, mapper.Package(orderID, rec, pr, detail))
		}
	}

	// Шаг 5: replace-снапшоты. Старые строки затронутых заказов удаляются
	// целиком; surrogate id зависимых сущностей меняются каждым проходом.
	if len(lineItems) > 0 {
		if err := s.repo.ReplaceLineItems(ctx, affected, lineItems); err != nil {
			return errors.Wrap(err, "replace line items")
		}
	}
	if len(payments) > 0 {
		if err := s.repo.ReplacePayments(ctx, affected, payments); err != nil {
			return errors.Wrap(err, "replace payments")
		}
	}
	if len(addrs) > 0 {
		if err := s.repo.ReplaceAddresses(ctx, affected, addrs); err != nil {
			return errors.Wrap(err, "replace addresses")
		}
	}
	if len(pkgs) > 0 {
		if err := s.repo.ReplacePackages(ctx, affected, pkgs); err != nil {
			return errors.Wrap(err, "replace packages")
		}
	}

	// Шаг 6: двухфазная дедупликация состояний трекинга. Пакеты пересоздаются
	// каждым синком, а состояние пары (заказ, трек-номер) живёт ровно одно.
	candidates := make(map[pgorders.TrackingKey]*models.TrackingState)
	var candidateOrder []pgorders.TrackingKey
	for _, p := range pkgs {
		if p.TrackingNumber == nil {
			continue
		}
		k := pgorders.TrackingKey{OrderID: p.OrderID, TrackingNumber: *p.TrackingNumber}
		if _, ok := candidates[k]; ok {
			// Внутри батча побеждает первое вхождение.
			continue
		}
		candidates[k] = &models.TrackingState{
			OrgID:          req.OrgID,
			OrderID:        p.OrderID,
			TrackingNumber: *p.TrackingNumber,
			ProviderName:   p.ProviderName,
			ProviderType:   p.ProviderType,
			ServiceLevel:   p.ServiceLevel,
			Status:         p.Status,
		}
		candidateOrder = append(candidateOrder, k)
	}

	var fresh []*models.TrackingState
	if len(candidates) > 0 {
		existingKeys, err := s.repo.ExistingTrackingKeys(ctx, affected)
		if err != nil {
			return errors.Wrap(err, "existing tracking keys")
		}
		for _, k := range candidateOrder {
			if _, ok := existingKeys[k]; ok {
				continue
			}
			fresh = append(fresh, candidates[k])
		}
		if err := s.repo.InsertTrackingStates(ctx, fresh); err != nil {
			return errors.Wrap(err, "insert tracking states")
		}
	}

	// Шаг 7: best-effort обратная ссылка состояния на пакет; отсутствие
	// совпадения не ошибка.
	if len(fresh) > 0 {
		pkgRefs, err := s.repo.PackageRefsByOrderIDs(ctx, affected)
		if err != nil {
			slog.Warn("resolve package refs", "error", err.Error())
		} else {
			for _, st := range fresh {
				k := pgorders.TrackingKey{OrderID: st.OrderID, TrackingNumber: st.TrackingNumber}
				pkgID, ok := pkgRefs[k]
				if !ok {
					continue
				}
				if err := s.repo.LinkTrackingStatePackage(ctx, k, pkgID); err != nil {
					slog.Warn("link tracking state package", "order_id", st.OrderID, "error", err.Error())
				}
			}
		}
	}

	// Шаг 8: одна нотификация на батч для заказов с новыми состояниями.
	if len(fresh) > 0 && s.producer != nil {
		seen := make(map[uint64]struct{}, len(fresh))
		var orderIDs []string
		for _, st := range fresh {
			if _, ok := seen[st.OrderID]; ok {
				continue
			}
			seen[st.OrderID] = struct{}{}
			if ext, ok := externalByID[st.OrderID]; ok {
				orderIDs = append(orderIDs, ext)
			}
		}
		if len(orderIDs) > 0 {
			msg := messages.TrackingRefreshRequested{ShopID: req.Shop.ShopID, OrderIDs: orderIDs}
			b, err := json.Marshal(msg)
			if err == nil {
				// Fire-and-forget: отказ нотификации не валит батч.
				if err := s.producer.Publish(ctx, s.topic, []byte(req.Shop.ShopID), b); err != nil {
					slog.Error("publish tracking refresh", "shop_id", req.Shop.ShopID, "error", err.Error())
				}
			}
		}
	}

	// Шаг 9: охраняемый обход таймлайна для каждого заказа батча.
	for _, orderID := range affected {
		s.syncOrderTimeline(ctx, req, orderID, externalByID[orderID])
	}

	return nil
}

// fetchPackageDetail тянет детальный ответ по пакету. Любая ошибка деградирует
// до nil: пакет сохранится с маркером неудачного обогащения.
func (s *Syncer) fetchPackageDetail(ctx context.Context, req SyncRequest, packageID string) *marketplace.PackageDetail {
	if packageID == "" {
		return nil
	}
	s.throttle(ctx, req.Shop.ShopID, s.detailDelay)

	detail, err := s.source.GetPackageDetail(ctx, req.Shop, packageID)
	if err != nil {
		slog.Warn("package detail fetch failed", "shop_id", req.Shop.ShopID, "package_id", packageID, "error", err.Error())
		return nil
	}
	return &detail
}
