package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/httpserver"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

type adminDeps struct {
	lifecycle        *billing.LifecycleService
	subscriptions    billing.SubscriptionStore
	defaultTrialDays int
	log              *slog.Logger
	probes           []func(context.Context) error
}

// newAdminRouter builds the admin API. It exposes health probes and the
// manual lifecycle operations a support operator needs; provisioning and
// payment-method management live elsewhere.
func newAdminRouter(deps adminDeps) http.Handler {
	h := &adminHandler{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", httpserver.HealthCheckHandler(deps.log))
	r.Get("/readyz", httpserver.HealthCheckHandler(deps.log, deps.probes...))

	r.Route("/subscriptions/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Post("/start-trial", h.startTrial)
		r.Post("/activate", h.activate)
		r.Post("/suspend", h.suspend)
		r.Post("/reactivate", h.reactivate)
		r.Post("/mark-past-due", h.markPastDue)
		r.Post("/cancel", h.cancel)
		r.Post("/expire", h.expire)
	})

	return r
}

type adminHandler struct {
	deps adminDeps
}

type lifecycleRequest struct {
	Reason      string `json:"reason"`
	Days        int    `json:"days,omitempty"`
	AtPeriodEnd bool   `json:"at_period_end,omitempty"`
}

type subscriptionView struct {
	ID                 uuid.UUID          `json:"id"`
	OrganizationID     uuid.UUID          `json:"organization_id"`
	ClientID           uuid.UUID          `json:"client_id"`
	ContractID         string             `json:"contract_id,omitempty"`
	Plan               billing.PlanTier   `json:"plan"`
	Frequency          billing.Frequency  `json:"frequency"`
	Amount             string             `json:"amount"`
	Currency           string             `json:"currency"`
	Source             billing.Source     `json:"source"`
	Status             billing.Status     `json:"status"`
	TrialStartsAt      *time.Time         `json:"trial_starts_at,omitempty"`
	TrialEndsAt        *time.Time         `json:"trial_ends_at,omitempty"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
	NextChargeAt       time.Time          `json:"next_charge_at"`
	RetryCount         int                `json:"retry_count"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`
	CancellationReason string             `json:"cancellation_reason,omitempty"`
	SuspendedAt        *time.Time         `json:"suspended_at,omitempty"`
	SuspensionReason   string             `json:"suspension_reason,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

func newSubscriptionView(sub *billing.Subscription) subscriptionView {
	return subscriptionView{
		ID:                 sub.ID,
		OrganizationID:     sub.OrganizationID,
		ClientID:           sub.ClientID,
		ContractID:         sub.ContractID,
		Plan:               sub.Plan,
		Frequency:          sub.Frequency,
		Amount:             sub.Amount.StringFixed(2),
		Currency:           sub.Currency,
		Source:             sub.Source,
		Status:             sub.Status,
		TrialStartsAt:      sub.TrialStartsAt,
		TrialEndsAt:        sub.TrialEndsAt,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		NextChargeAt:       sub.NextChargeAt,
		RetryCount:         sub.RetryCount,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CancelledAt:        sub.CancelledAt,
		CancellationReason: sub.CancellationReason,
		SuspendedAt:        sub.SuspendedAt,
		SuspensionReason:   sub.SuspensionReason,
		CreatedAt:          sub.CreatedAt,
		UpdatedAt:          sub.UpdatedAt,
	}
}

func (h *adminHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}
	sub, err := h.deps.subscriptions.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, newSubscriptionView(sub))
}

func (h *adminHandler) startTrial(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id uuid.UUID, req lifecycleRequest) (*billing.Subscription, error) {
		days := req.Days
		if days == 0 {
			days = h.deps.defaultTrialDays
		}
		return h.deps.lifecycle.StartTrial(ctx, id, days, billing.ActorUser, req.Reason)
	})
}

// activate picks the right activation path from the subscription's current
// status so operators do not need to know the state machine's edges.
func (h *adminHandler) activate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id uuid.UUID, req lifecycleRequest) (*billing.Subscription, error) {
		sub, err := h.deps.subscriptions.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sub.Status == billing.StatusTrial {
			return h.deps.lifecycle.ActivateFromTrial(ctx, id, billing.ActorUser, req.Reason)
		}
		return h.deps.lifecycle.ActivateFromPending(ctx, id, billing.ActorUser, req.Reason)
	})
}

func (h *adminHandler) suspend(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id uuid.UUID, req lifecycleRequest) (*billing.Subscription, error) {
		sub, err := h.deps.subscriptions.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sub.Status == billing.StatusPastDue {
			return h.deps.lifecycle.SuspendFromPastDue(ctx, id, billing.ActorUser, req.Reason)
		}
		return h.deps.lifecycle.Suspend(ctx, id, billing.ActorUser, req.Reason)
	})
}

func (h *adminHandler) reactivate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id uuid.UUID, req lifecycleRequest) (*billing.Subscription, error) {
		sub, err := h.deps.subscriptions.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sub.Status == billing.StatusPastDue {
			return h.deps.lifecycle.ReactivateFromPastDue(ctx, id, billing.ActorUser, req.Reason)
		}
		return h.deps.lifecycle.ReactivateFromSuspended(ctx, id, billing.ActorUser, req.Reason)
	})
}

func (h *adminHandler) markPastDue(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id uuid.UUID, req lifecycleRequest) (*billing.Subscription, error) {
		return h.deps.lifecycle.MarkPastDue(ctx, id, billing.ActorUser, req.Reason)
	})
}

func (h *adminHandler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id uuid.UUID, req lifecycleRequest) (*billing.Subscription, error) {
		return h.deps.lifecycle.Cancel(ctx, id, req.AtPeriodEnd, billing.ActorUser, req.Reason)
	})
}

func (h *adminHandler) expire(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id uuid.UUID, req lifecycleRequest) (*billing.Subscription, error) {
		return h.deps.lifecycle.Expire(ctx, id, billing.ActorUser, req.Reason)
	})
}

func (h *adminHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	op func(context.Context, uuid.UUID, lifecycleRequest) (*billing.Subscription, error),
) {
	id, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}

	var req lifecycleRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	sub, err := op(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, newSubscriptionView(sub))
}

func (h *adminHandler) subscriptionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid subscription id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *adminHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, billing.ErrSubscriptionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, billing.ErrInvalidStatusTransition):
		status = http.StatusConflict
	case billing.ErrorCode(err) != "":
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		h.deps.log.ErrorContext(r.Context(), "admin request failed",
			slog.String("path", r.URL.Path),
			logger.Error(err),
		)
		h.writeJSON(w, r, status, map[string]string{"error": "internal error"})
		return
	}

	body := map[string]string{"error": err.Error()}
	if code := billing.ErrorCode(err); code != "" {
		body["code"] = code
	}
	h.writeJSON(w, r, status, body)
}

func (h *adminHandler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.deps.log.ErrorContext(r.Context(), "write response", logger.Error(err))
	}
}
