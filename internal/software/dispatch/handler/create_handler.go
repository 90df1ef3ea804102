package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"ride-dispatch/internal/general/jwt"
	"ride-dispatch/internal/ports"

	"github.com/jackc/pgx/v5/pgconn"
)

// --- Request DTO (HTTP boundary) ---

type createRideRequest struct {
	RiderID          string     `json:"rider_id"`
	SpecificDriverID string     `json:"specific_driver_id"`
	PreferKin        bool       `json:"prefer_kin"`
	ScheduledAt      *time.Time `json:"scheduled_at"`
}

// ----- Handler: POST /rides -----

func (handler *DispatchHTTPHandler) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		handler.httpError(ctx, w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MiB
	defer r.Body.Close()

	// decode strictly
	var req createRideRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			handler.httpError(ctx, w, http.StatusRequestEntityTooLarge, "request body too large", err)
			return
		}
		handler.httpError(ctx, w, http.StatusBadRequest, "invalid JSON: "+err.Error(), err)
		return
	}

	claims := jwt.RequireClaims(r)
	if claims == nil {
		handler.httpError(ctx, w, http.StatusUnauthorized, "missing auth claims", errors.New("no claims"))
		return
	}

	// fill or verify rider_id against the token subject
	sub := strings.TrimSpace(claims.Subject)
	if strings.TrimSpace(req.RiderID) == "" {
		req.RiderID = sub
	} else if req.RiderID != sub {
		handler.httpError(ctx, w, http.StatusForbidden, "rider_id does not match token subject", errors.New("rider/token mismatch"))
		return
	}

	in := ports.CreateRideInput{
		RiderID:          strings.TrimSpace(req.RiderID),
		SpecificDriverID: strings.TrimSpace(req.SpecificDriverID),
		PreferKin:        req.PreferKin,
		ScheduledAt:      req.ScheduledAt,
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := handler.svc.CreateRide(ctxWithTimeout, in)
	if err != nil {
		// distinguish DB failures from validation errors
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			handler.httpError(ctxWithTimeout, w, http.StatusInternalServerError, "database error", err)
			return
		}
		handler.httpError(ctxWithTimeout, w, http.StatusBadRequest, err.Error(), err)
		return
	}
	ctxWithTimeout = handler.logger.WithRideID(ctxWithTimeout, res.RideID)

	handler.jsonResponse(ctxWithTimeout, w, http.StatusCreated, res)
}
