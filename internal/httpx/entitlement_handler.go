package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/octoaxis/ebook-orders/internal/entitlement"
	"github.com/octoaxis/ebook-orders/internal/redisx"
)

type EntitlementHandler struct {
	Service *entitlement.Service
	Redis   *redis.Client
}

type CheckoutReq struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	PaymentMethod string `json:"payment_method"`
}

type CheckoutResp struct {
	OrderID         string `json:"order_id"`
	CheckoutURL     string `json:"checkout_url,omitempty"`
	AlreadyEntitled bool   `json:"already_entitled,omitempty"`
	Reused          bool   `json:"reused,omitempty"`
}

type StatusResp struct {
	Found          bool   `json:"found"`
	Allowed        bool   `json:"allowed"`
	OrderID        string `json:"order_id,omitempty"`
	Status         string `json:"status,omitempty"`
	ProviderStatus string `json:"provider_status,omitempty"`
}

type DownloadResp struct {
	Found          bool   `json:"found"`
	Allowed        bool   `json:"allowed"`
	OrderID        string `json:"order_id,omitempty"`
	Status         string `json:"status,omitempty"`
	ProviderStatus string `json:"provider_status,omitempty"`
	DownloadURL    string `json:"download_url,omitempty"`
	ExpiresAt      string `json:"expires_at,omitempty"`
	Message        string `json:"message,omitempty"`
}

func (h *EntitlementHandler) Register(r *chi.Mux) {
	r.Post("/api/checkout", h.createCheckout)
	r.Get("/api/orders/status", h.orderStatus)
	r.Get("/api/download", h.download)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entitlement.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, entitlement.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
	case errors.Is(err, entitlement.ErrGrantUnavailable):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "could not issue download link, try again"})
	case errors.Is(err, entitlement.ErrUpstream):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable, try again"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *EntitlementHandler) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Service.BeginCheckout(ctx, req.Name, req.Email, req.PaymentMethod)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CheckoutResp{
		OrderID:         res.OrderID,
		CheckoutURL:     res.CheckoutURL,
		AlreadyEntitled: res.AlreadyEntitled,
		Reused:          res.Reused,
	})
}

func (h *EntitlementHandler) orderStatus(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("email")))
	orderID := queryOrderID(r)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// Shallow read, so a short cache in front of the store is safe.
	key := fmt.Sprintf(redisx.KeyEntitlementStatus, email, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(s))
		return
	}

	res, err := h.Service.Status(ctx, email, orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := StatusResp{Found: res.Found}
	if res.Found {
		resp.Allowed = res.Order.EntitlementGranted
		resp.OrderID = res.Order.ID
		resp.Status = string(res.Order.Status)
		resp.ProviderStatus = res.Order.ProviderStatus
	}
	b, _ := json.Marshal(resp)
	_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *EntitlementHandler) download(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	orderID := queryOrderID(r)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Service.Download(ctx, email, orderID, r.Header.Get("X-Request-Id"))
	if errors.Is(err, entitlement.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, DownloadResp{Found: false, Message: "no order found"})
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if res.Pending {
		writeJSON(w, http.StatusOK, DownloadResp{
			Found:          true,
			Allowed:        false,
			OrderID:        res.Order.ID,
			Status:         string(res.Order.Status),
			ProviderStatus: res.Order.ProviderStatus,
			Message:        "payment not confirmed yet; if you already paid, wait a few minutes and reload",
		})
		return
	}

	writeJSON(w, http.StatusOK, DownloadResp{
		Found:          true,
		Allowed:        true,
		OrderID:        res.Order.ID,
		Status:         string(res.Order.Status),
		ProviderStatus: res.Order.ProviderStatus,
		DownloadURL:    res.Grant.URL,
		ExpiresAt:      res.Grant.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// queryOrderID accepts both snake_case and the camelCase the provider back
// URLs carry.
func queryOrderID(r *http.Request) string {
	if v := r.URL.Query().Get("order_id"); v != "" {
		return v
	}
	return r.URL.Query().Get("orderId")
}
