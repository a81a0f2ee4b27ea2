package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/foxminchan/BookWorm-sub002/internal/domain"
	"github.com/foxminchan/BookWorm-sub002/internal/service"
)

type createOrderRequest struct {
	BuyerID string            `json:"buyer_id"`
	Items   []domain.LineItem `json:"items"`
}

type checkoutCompletedRequest struct {
	OrderID    uuid.UUID `json:"order_id"`
	TotalPrice float64   `json:"total_price"`
}

type orderResponse struct {
	ID         uuid.UUID         `json:"id"`
	BuyerID    string            `json:"buyer_id"`
	Items      []domain.LineItem `json:"items"`
	TotalPrice float64           `json:"total_price"`
	Status     domain.Status     `json:"status"`
	Version    int64             `json:"version"`
}

type summaryResponse struct {
	OrderID    uuid.UUID     `json:"order_id"`
	Status     domain.Status `json:"status"`
	TotalPrice float64       `json:"total_price"`
}

func newRouter(svc *service.OrderService) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		order, err := svc.PlaceOrder(r.Context(), req.BuyerID, req.Items)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toOrderResponse(order))
	})

	mux.HandleFunc("POST /orders/{id}/complete", func(w http.ResponseWriter, r *http.Request) {
		transition(w, r, svc.CompleteOrder)
	})

	mux.HandleFunc("POST /orders/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		transition(w, r, svc.CancelOrder)
	})

	mux.HandleFunc("GET /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			http.Error(w, "Invalid order id", http.StatusBadRequest)
			return
		}
		order, err := svc.GetOrder(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrderResponse(order))
	})

	mux.HandleFunc("GET /orders/{id}/summary", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			http.Error(w, "Invalid order id", http.StatusBadRequest)
			return
		}
		sum, err := svc.GetSummary(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summaryResponse{OrderID: sum.OrderID, Status: sum.Status, TotalPrice: sum.TotalPrice})
	})

	// Inbound basket checkout-completion signal. In a full deployment this
	// arrives over the broker; the endpoint exists so the trigger path can
	// be exercised directly.
	mux.HandleFunc("POST /checkout-completed", func(w http.ResponseWriter, r *http.Request) {
		var req checkoutCompletedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := svc.ApplyCheckoutCompleted(r.Context(), req.OrderID, req.TotalPrice); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	return mux
}

func transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id uuid.UUID) (*domain.Order, error)) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid order id", http.StatusBadRequest)
		return
	}
	order, err := fn(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func toOrderResponse(order *domain.Order) orderResponse {
	return orderResponse{
		ID:         order.ID,
		BuyerID:    order.BuyerID,
		Items:      order.Items,
		TotalPrice: order.TotalPrice,
		Status:     order.Status,
		Version:    order.Version,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Error("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrConcurrencyConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		logrus.WithError(err).Error("request failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
