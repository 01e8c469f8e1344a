package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/MarketSync/config"
	"github.com/BearBump/MarketSync/internal/integrations/marketplace"
	"github.com/BearBump/MarketSync/internal/services/syncer"
	"github.com/go-chi/chi/v5"
)

type workerHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	syncer *syncer.Syncer
	cfg    *config.Config
}

type syncHTTPRequest struct {
	ShopID   string `json:"shopId"`
	Sync     bool   `json:"sync"`
	PageSize int    `json:"pageSize,omitempty"`

	Statuses      []string `json:"statuses,omitempty"`
	CreatedAfter  int64    `json:"createdAfter,omitempty"`
	CreatedBefore int64    `json:"createdBefore,omitempty"`
	UpdatedAfter  int64    `json:"updatedAfter,omitempty"`
	UpdatedBefore int64    `json:"updatedBefore,omitempty"`
	ShippingType  string   `json:"shippingType,omitempty"`
	BuyerUserID   string   `json:"buyerUserId,omitempty"`
	WarehouseIDs  []string `json:"warehouseIds,omitempty"`
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func newWorkerRouter(opts workerHTTPOpts) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.syncer == nil {
			_, _ = w.Write([]byte(`{"error":"syncer not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.syncer.Stats())
	})

	r.Post("/sync", func(w http.ResponseWriter, r *http.Request) {
		var body syncHTTPRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		// Валидация до любых походов к площадке.
		if body.ShopID == "" {
			writeJSONError(w, http.StatusBadRequest, "shopId is required")
			return
		}
		shop := opts.cfg.Shop(body.ShopID)
		if shop == nil {
			writeJSONError(w, http.StatusBadRequest, "unknown shop: "+body.ShopID)
			return
		}

		req := syncer.SyncRequest{
			OrgID: opts.cfg.MarketSync.OrgID,
			Shop: marketplace.ShopCredential{
				ShopID:      shop.ID,
				AccessToken: shop.AccessToken,
				Cipher:      shop.Cipher,
			},
			PageSize: body.PageSize,
			Filter: marketplace.OrderFilter{
				StatusIn:      body.Statuses,
				CreatedAfter:  body.CreatedAfter,
				CreatedBefore: body.CreatedBefore,
				UpdatedAfter:  body.UpdatedAfter,
				UpdatedBefore: body.UpdatedBefore,
				ShippingType:  body.ShippingType,
				BuyerUserID:   body.BuyerUserID,
				WarehouseIDs:  body.WarehouseIDs,
			},
		}

		w.Header().Set("Content-Type", "application/json")

		// sync=false — предпросмотр: первая страница площадки как есть,
		// без записи в хранилище.
		if !body.Sync {
			raw, err := opts.syncer.Preview(r.Context(), req)
			if err != nil {
				writeJSONError(w, http.StatusBadGateway, err.Error())
				return
			}
			_, _ = w.Write(raw)
			return
		}

		res, err := opts.syncer.Sync(r.Context(), req)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		_ = json.NewEncoder(w).Encode(res)
	})

	return r
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: newWorkerRouter(opts)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
