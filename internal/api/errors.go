package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/xtrntr/auction/internal/auction"
)

type errorBody struct {
	Error   string           `json:"error"`
	Minimum *decimal.Decimal `json:"minimum,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("failed to encode response")
	}
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, auction.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auction.ErrInvalidPhase), errors.Is(err, auction.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, auction.ErrNotRegistered), errors.Is(err, auction.ErrUnverified):
		return http.StatusForbidden
	case errors.Is(err, auction.ErrSizeRequired), errors.Is(err, auction.ErrInvalidSize),
		errors.Is(err, auction.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, auction.ErrBidTooLow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, auction.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the error body for a service error. Internal errors are
// logged and never echoed to the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var tooLow *auction.BidTooLowError
	if errors.As(err, &tooLow) {
		body.Minimum = &tooLow.Minimum
	}

	switch status {
	case http.StatusInternalServerError:
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		body.Error = "Internal server error"
	case http.StatusServiceUnavailable:
		h.log.WithError(err).WithField("path", r.URL.Path).Warn("storage unavailable")
		body.Error = "Service temporarily unavailable, please retry"
	}
	writeJSON(w, status, body)
}
