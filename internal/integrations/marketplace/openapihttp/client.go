package openapihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/MarketSync/internal/integrations/marketplace"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	appKey  string
	httpc   *http.Client
}

func New(baseURL, appKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100"
	}
	return &Client{
		baseURL: baseURL,
		appKey:  appKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Конверт открытого API: code=0 означает успех, данные лежат в data.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type searchBody struct {
	PageSize      int      `json:"page_size"`
	PageToken     string   `json:"page_token,omitempty"`
	SortBy        string   `json:"sort_by,omitempty"`
	SortDirection string   `json:"sort_direction,omitempty"`
	StatusIn      []string `json:"status_in,omitempty"`
	CreatedAfter  int64    `json:"created_after,omitempty"`
	CreatedBefore int64    `json:"created_before,omitempty"`
	UpdatedAfter  int64    `json:"updated_after,omitempty"`
	UpdatedBefore int64    `json:"updated_before,omitempty"`
	ShippingType  string   `json:"shipping_type,omitempty"`
	BuyerUserID   string   `json:"buyer_user_id,omitempty"`
	WarehouseIDs  []string `json:"warehouse_ids,omitempty"`
}

type wireOrderPage struct {
	Orders        []wireOrder `json:"orders"`
	NextPageToken string      `json:"next_page_token"`
}

type wireOrder struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	TotalAmount string `json:"total_amount"`
	Currency    string `json:"currency"`

	CreateTime   int64 `json:"create_time"`
	UpdateTime   int64 `json:"update_time"`
	PaidTime     int64 `json:"paid_time"`
	DeliveryTime int64 `json:"delivery_time"`

	CollectionDueTime int64 `json:"collection_due_time"`
	ShippingDueTime   int64 `json:"shipping_due_time"`
	DeliveryDueTime   int64 `json:"delivery_due_time"`

	BuyerUserID  string `json:"buyer_user_id"`
	ShippingType string `json:"shipping_type"`

	LineItems []wireLineItem `json:"line_items"`
	Payment   *wirePayment   `json:"payment"`
	Address   *wireAddress   `json:"recipient_address"`
	Packages  []wirePackage  `json:"packages"`

	Extra map[string]any `json:"extra"`
}

type wireLineItem struct {
	ID        string         `json:"id"`
	ProductID string         `json:"product_id"`
	SkuID     string         `json:"sku_id"`
	Name      string         `json:"product_name"`
	Price     string         `json:"sale_price"`
	Currency  string         `json:"currency"`
	PackageID string         `json:"package_id"`
	Extra     map[string]any `json:"extra"`
}

type wirePayment struct {
	Currency string         `json:"currency"`
	Total    string         `json:"total_amount"`
	Subtotal string         `json:"sub_total"`
	Tax      string         `json:"tax"`
	Extra    map[string]any `json:"extra"`
}

type wireAddress struct {
	FullAddress string         `json:"full_address"`
	Name        string         `json:"name"`
	Phone       string         `json:"phone_number"`
	PostalCode  string         `json:"postal_code"`
	Districts   []wireDistrict `json:"district_info"`
	Extra       map[string]any `json:"extra"`
}

type wireDistrict struct {
	Level int    `json:"address_level"`
	Name  string `json:"address_name"`
}

type wirePackage struct {
	ID             string         `json:"id"`
	TrackingNumber string         `json:"tracking_number"`
	ProviderName   string         `json:"shipping_provider"`
	ProviderType   string         `json:"provider_type"`
	ServiceLevel   string         `json:"service_level"`
	Status         string         `json:"status"`
	LineItemIDs    []string       `json:"line_item_ids"`
	Extra          map[string]any `json:"extra"`
}

type wireTracking struct {
	Events []struct {
		Description string `json:"description"`
		Sequence    int    `json:"sequence"`
		UpdateTime  int64  `json:"update_time"`
		Source      string `json:"source"`
	} `json:"tracking"`
}

func (c *Client) ListOrders(ctx context.Context, cred marketplace.ShopCredential, q marketplace.OrderQuery) (marketplace.OrderPage, error) {
	body := searchBody{
		PageSize:      q.PageSize,
		PageToken:     q.PageToken,
		SortBy:        q.SortBy,
		SortDirection: q.SortDirection,
		StatusIn:      q.Filter.StatusIn,
		CreatedAfter:  q.Filter.CreatedAfter,
		CreatedBefore: q.Filter.CreatedBefore,
		UpdatedAfter:  q.Filter.UpdatedAfter,
		UpdatedBefore: q.Filter.UpdatedBefore,
		ShippingType:  q.Filter.ShippingType,
		BuyerUserID:   q.Filter.BuyerUserID,
		WarehouseIDs:  q.Filter.WarehouseIDs,
	}

	raw, err := c.call(ctx, cred, http.MethodPost, "/api/orders/search", body)
	if err != nil {
		return marketplace.OrderPage{}, err
	}

	var p wireOrderPage
	if err := json.Unmarshal(raw, &p); err != nil {
		return marketplace.OrderPage{}, errors.Wrap(err, "decode order page")
	}

	out := marketplace.OrderPage{
		NextPageToken: p.NextPageToken,
		Raw:           raw,
	}
	for _, o := range p.Orders {
		out.Orders = append(out.Orders, toOrderRecord(o))
	}
	return out, nil
}

func (c *Client) GetPackageDetail(ctx context.Context, cred marketplace.ShopCredential, packageID string) (marketplace.PackageDetail, error) {
	raw, err := c.call(ctx, cred, http.MethodGet, "/api/fulfillment/packages/"+url.PathEscape(packageID), nil)
	if err != nil {
		return marketplace.PackageDetail{}, err
	}

	var w wirePackage
	if err := json.Unmarshal(raw, &w); err != nil {
		return marketplace.PackageDetail{}, errors.Wrap(err, "decode package detail")
	}

	var full map[string]any
	_ = json.Unmarshal(raw, &full)

	return marketplace.PackageDetail{
		ID:             w.ID,
		TrackingNumber: w.TrackingNumber,
		ProviderName:   w.ProviderName,
		ProviderType:   w.ProviderType,
		ServiceLevel:   w.ServiceLevel,
		Status:         w.Status,
		Raw:            full,
	}, nil
}

func (c *Client) GetOrderTracking(ctx context.Context, cred marketplace.ShopCredential, orderID string) ([]marketplace.TrackingEventRecord, error) {
	raw, err := c.call(ctx, cred, http.MethodGet, "/api/orders/"+url.PathEscape(orderID)+"/tracking", nil)
	if err != nil {
		return nil, err
	}

	var w wireTracking
	if err := json.Unmarshal(raw, &w); err != nil {
		// Кривой ответ трекинга не считаем фатальным: событий просто нет.
		return nil, nil
	}

	out := make([]marketplace.TrackingEventRecord, 0, len(w.Events))
	for _, e := range w.Events {
		out = append(out, marketplace.TrackingEventRecord{
			Description: e.Description,
			Sequence:    e.Sequence,
			EventTime:   e.UpdateTime,
			Source:      e.Source,
		})
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, cred marketplace.ShopCredential, method, path string, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = path

	q := u.Query()
	q.Set("app_key", c.appKey)
	q.Set("shop_id", cred.ShopID)
	q.Set("shop_cipher", cred.Cipher)
	q.Set("access_token", cred.AccessToken)
	u.RawQuery = q.Encode()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal body")
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("marketplace http %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, errors.Wrap(err, "decode envelope")
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("marketplace code=%d message=%s", env.Code, env.Message)
	}
	return env.Data, nil
}

func toOrderRecord(o wireOrder) marketplace.OrderRecord {
	rec := marketplace.OrderRecord{
		ID:          o.ID,
		Status:      o.Status,
		TotalAmount: o.TotalAmount,
		Currency:    o.Currency,

		CreateTime:   o.CreateTime,
		UpdateTime:   o.UpdateTime,
		PaidTime:     o.PaidTime,
		DeliveryTime: o.DeliveryTime,

		CollectionDueTime: o.CollectionDueTime,
		ShippingDueTime:   o.ShippingDueTime,
		DeliveryDueTime:   o.DeliveryDueTime,

		BuyerUserID:  o.BuyerUserID,
		ShippingType: o.ShippingType,

		Extra: o.Extra,
	}

	for _, li := range o.LineItems {
		rec.LineItems = append(rec.LineItems, marketplace.LineItemRecord(li))
	}
	if o.Payment != nil {
		p := marketplace.PaymentRecord(*o.Payment)
		rec.Payment = &p
	}
	if o.Address != nil {
		a := marketplace.AddressRecord{
			FullAddress: o.Address.FullAddress,
			Name:        o.Address.Name,
			Phone:       o.Address.Phone,
			PostalCode:  o.Address.PostalCode,
			Extra:       o.Address.Extra,
		}
		for _, d := range o.Address.Districts {
			a.Districts = append(a.Districts, marketplace.DistrictRecord(d))
		}
		rec.RecipientAddress = &a
	}
	for _, p := range o.Packages {
		rec.Packages = append(rec.Packages, marketplace.PackageRecord(p))
	}
	return rec
}
