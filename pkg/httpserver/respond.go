package httpserver

import (
	"errors"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/mselser95/parimutuel/pkg/types"
	"go.uber.org/zap"
)

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// errorKinds maps each failure kind to its wire name and status code.
var errorKinds = []struct { //nolint:gochecknoglobals // lookup table
	err    error
	kind   string
	status int
}{
	{types.ErrUnauthorized, "unauthorized", http.StatusForbidden},
	{types.ErrNotFound, "not_found", http.StatusNotFound},
	{types.ErrInvalidState, "invalid_state", http.StatusConflict},
	{types.ErrDuplicateParticipation, "duplicate_participation", http.StatusConflict},
	{types.ErrAlreadyClaimed, "already_claimed", http.StatusConflict},
	{types.ErrConflict, "conflict", http.StatusConflict},
	{types.ErrNotReclaimable, "not_reclaimable", http.StatusConflict},
	{types.ErrMarketExpired, "market_expired", http.StatusGone},
	{types.ErrInvalidAmount, "invalid_amount", http.StatusUnprocessableEntity},
	{types.ErrInvalidParameters, "invalid_parameters", http.StatusUnprocessableEntity},
	{types.ErrNotSettleable, "not_settleable", http.StatusUnprocessableEntity},
}

// classify returns the wire kind and status for err.
func classify(err error) (string, int) {
	var te *types.TransferError
	if errors.As(err, &te) {
		return "transfer_failed", http.StatusPaymentRequired
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind, k.status
		}
	}
	return "internal", http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		logger.Error("failed-to-encode-response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	kind, status := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request-failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, logger, status, ErrorResponse{Error: msg, Kind: kind})
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(types.ErrInvalidParameters, err)
	}
	return nil
}

// decodeOptional is decode for endpoints whose body may be empty.
func decodeOptional(r *http.Request, v any) error {
	err := decode(r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
