package mapper

import (
	"strings"
	"time"

	"github.com/BearBump/MarketSync/internal/integrations/marketplace"
	"github.com/BearBump/MarketSync/internal/models"
)

// Чистые преобразования сырых записей площадки в нормализованные сущности.
// Никакого I/O. Отсутствующие поля источника остаются нулевыми, а не ошибкой.

func Order(orgID, shopID string, rec marketplace.OrderRecord) *models.Order {
	status := rec.Status
	if status == "" {
		status = models.OrderStatusUnknown
	}

	o := &models.Order{
		OrgID:       orgID,
		ShopID:      shopID,
		ExternalID:  rec.ID,
		Status:      status,
		TotalAmount: rec.TotalAmount,
		Currency:    rec.Currency,

		CreatedTime:  unixTime(rec.CreateTime),
		UpdatedTime:  unixTime(rec.UpdateTime),
		PaidTime:     unixTime(rec.PaidTime),
		DeliveryTime: unixTime(rec.DeliveryTime),

		CollectionDueAt: unixTime(rec.CollectionDueTime),
		ShippingDueAt:   unixTime(rec.ShippingDueTime),
		DeliveryDueAt:   unixTime(rec.DeliveryDueTime),

		ChannelData: models.ChannelData{},
	}
	if rec.BuyerUserID != "" {
		o.ChannelData["buyer_user_id"] = rec.BuyerUserID
	}
	if rec.ShippingType != "" {
		o.ChannelData["shipping_type"] = rec.ShippingType
	}
	for k, v := range rec.Extra {
		o.ChannelData[k] = v
	}
	return o
}

func LineItems(orderID uint64, rec marketplace.OrderRecord) []*models.LineItem {
	out := make([]*models.LineItem, 0, len(rec.LineItems))
	for _, li := range rec.LineItems {
		item := &models.LineItem{
			OrderID:    orderID,
			ExternalID: li.ID,
			ProductID:  li.ProductID,
			SkuID:      li.SkuID,
			Name:       li.Name,
			Price:      li.Price,
			Currency:   li.Currency,
		}
		if len(li.Extra) > 0 {
			item.ChannelData = li.Extra
		}
		out = append(out, item)
	}
	return out
}

func Payment(orderID uint64, rec marketplace.OrderRecord) *models.Payment {
	if rec.Payment == nil {
		return nil
	}
	p := &models.Payment{
		OrderID:  orderID,
		Currency: rec.Payment.Currency,
		Total:    rec.Payment.Total,
		Subtotal: rec.Payment.Subtotal,
		Tax:      rec.Payment.Tax,
	}
	if len(rec.Payment.Extra) > 0 {
		p.ChannelData = rec.Payment.Extra
	}
	return p
}

func Address(orderID uint64, rec marketplace.OrderRecord) *models.RecipientAddress {
	if rec.RecipientAddress == nil {
		return nil
	}
	src := rec.RecipientAddress
	a := &models.RecipientAddress{
		OrderID:     orderID,
		FullAddress: src.FullAddress,
		Name:        src.Name,
		Phone:       src.Phone,
		PostalCode:  src.PostalCode,
	}
	for _, d := range src.Districts {
		a.Districts = append(a.Districts, models.AddressDistrict{Level: d.Level, Name: d.Name})
	}
	if len(src.Extra) > 0 {
		a.ChannelData = src.Extra
	}
	return a
}

// Package собирает строку пакета из записи заказа и (опционального) детального
// ответа. detail == nil означает, что обогащение не удалось: пакет сохраняется
// с маркером detail_fetched=false, а не выбрасывается.
func Package(orderID uint64, rec marketplace.OrderRecord, pkg marketplace.PackageRecord, detail *marketplace.PackageDetail) *models.Package {
	p := &models.Package{
		OrderID:      orderID,
		ExternalID:   pkg.ID,
		ProviderName: pkg.ProviderName,
		ProviderType: pkg.ProviderType,
		ServiceLevel: pkg.ServiceLevel,
		Status:       pkg.Status,
		ChannelData:  models.ChannelData{},
	}

	tn := strings.TrimSpace(pkg.TrackingNumber)
	if detail != nil {
		if tn == "" {
			tn = strings.TrimSpace(detail.TrackingNumber)
		}
		if p.ProviderName == "" {
			p.ProviderName = detail.ProviderName
		}
		if p.ProviderType == "" {
			p.ProviderType = detail.ProviderType
		}
		if p.ServiceLevel == "" {
			p.ServiceLevel = detail.ServiceLevel
		}
		if p.Status == "" {
			p.Status = detail.Status
		}
		p.ChannelData["detail"] = detail.Raw
		p.ChannelData["detail_fetched"] = true
	} else {
		p.ChannelData["detail_fetched"] = false
	}

	// Пустой после trim трек-номер считаем отсутствующим.
	if tn != "" {
		p.TrackingNumber = &tn
	}

	// Пакет без привязки к позициям относим ко всем позициям заказа.
	ids := pkg.LineItemIDs
	if len(ids) == 0 {
		for _, li := range rec.LineItems {
			ids = append(ids, li.ID)
		}
	}
	if len(ids) > 0 {
		p.ChannelData["line_item_ids"] = ids
	}
	if len(pkg.Extra) > 0 {
		p.ChannelData["extra"] = pkg.Extra
	}
	return p
}

func TimelineEntries(orderID uint64, events []marketplace.TrackingEventRecord) []*models.TimelineEntry {
	out := make([]*models.TimelineEntry, 0, len(events))
	for _, e := range events {
		occurred := time.Unix(e.EventTime, 0).UTC()
		if e.EventTime <= 0 {
			occurred = time.Now().UTC()
		}
		out = append(out, &models.TimelineEntry{
			OrderID:     orderID,
			Description: e.Description,
			Sequence:    e.Sequence,
			OccurredAt:  occurred,
			Source:      e.Source,
		})
	}
	return out
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
