package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"ride-dispatch/internal/general/jwt"
	"ride-dispatch/internal/ports"

	"github.com/jackc/pgx/v5/pgconn"
)

// --- Handler: POST /offers/{offer_id}/accept ---

func (handler *DispatchHTTPHandler) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	offerID := strings.TrimSpace(r.PathValue("offer_id"))
	if offerID == "" {
		handler.httpError(ctx, w, http.StatusBadRequest, "offer_id is required", errors.New("missing offer_id"))
		return
	}

	claims := jwt.RequireClaims(r)
	if claims == nil {
		handler.httpError(ctx, w, http.StatusUnauthorized, "missing auth claims", errors.New("no claims"))
		return
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := handler.svc.AcceptOffer(ctxWithTimeout, ports.AcceptOfferInput{
		OfferID:  offerID,
		DriverID: strings.TrimSpace(claims.Subject),
	})
	if err != nil {
		handler.offerError(ctxWithTimeout, w, err)
		return
	}
	ctxWithTimeout = handler.logger.WithRideID(ctxWithTimeout, res.RideID)

	handler.jsonResponse(ctxWithTimeout, w, http.StatusOK, res)
}

// --- Handler: POST /offers/{offer_id}/decline ---

func (handler *DispatchHTTPHandler) handleDeclineOffer(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	offerID := strings.TrimSpace(r.PathValue("offer_id"))
	if offerID == "" {
		handler.httpError(ctx, w, http.StatusBadRequest, "offer_id is required", errors.New("missing offer_id"))
		return
	}

	claims := jwt.RequireClaims(r)
	if claims == nil {
		handler.httpError(ctx, w, http.StatusUnauthorized, "missing auth claims", errors.New("no claims"))
		return
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := handler.svc.DeclineOffer(ctxWithTimeout, offerID, strings.TrimSpace(claims.Subject)); err != nil {
		handler.offerError(ctxWithTimeout, w, err)
		return
	}

	handler.jsonResponse(ctxWithTimeout, w, http.StatusOK, map[string]string{
		"offer_id": offerID,
		"status":   "DECLINED",
	})
}

// offerError maps offer lifecycle errors onto HTTP statuses. A lost race is a
// 409, not a 500: the losing driver did nothing wrong.
func (handler *DispatchHTTPHandler) offerError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ports.ErrOfferNotOwned):
		handler.httpError(ctx, w, http.StatusForbidden, "offer belongs to another driver", err)
	case errors.Is(err, ports.ErrOfferUnavailable):
		handler.httpError(ctx, w, http.StatusConflict, "offer no longer available", err)
	case errors.Is(err, ports.ErrNotFound):
		handler.httpError(ctx, w, http.StatusNotFound, "offer not found", err)
	default:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			handler.httpError(ctx, w, http.StatusInternalServerError, "database error", err)
			return
		}
		handler.httpError(ctx, w, http.StatusBadRequest, err.Error(), err)
	}
}
