package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/glimpse/backend/internal/apperr"
	"github.com/glimpse/backend/internal/logging"
)

const maxJSONBody = 1 << 20

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

// respondError writes err with the status of its apperr kind. Remote and
// unclassified failures hide their detail from the client.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	message := http.StatusText(status)

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case apperr.KindNotFound, apperr.KindValidation, apperr.KindConflict:
			if appErr.Message != "" {
				message = appErr.Message
			}
		}
	}
	if status >= http.StatusInternalServerError {
		logging.FromContext(ctx).Error("request error", "status", status, "error", err)
	}
	respondJSON(ctx, w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	w.WriteHeader(http.StatusMethodNotAllowed)
}
