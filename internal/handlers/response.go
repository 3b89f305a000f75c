package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"treasury-service/internal/apperrors"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

var statusByKind = map[apperrors.Kind]int{
	apperrors.KindAuthentication:    http.StatusUnauthorized,
	apperrors.KindAuthorization:     http.StatusForbidden,
	apperrors.KindValidation:        http.StatusBadRequest,
	apperrors.KindConflict:          http.StatusConflict,
	apperrors.KindInsufficientFunds: http.StatusUnprocessableEntity,
	apperrors.KindDomainState:       http.StatusConflict,
	apperrors.KindNotFound:          http.StatusNotFound,
	apperrors.KindInternal:          http.StatusInternalServerError,
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	if status, ok := statusByKind[apperrors.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondWithServiceError renders err. Internal causes are logged and never
// sent to the client.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		appErr = apperrors.Internal("request", err)
	}
	status := StatusFor(appErr)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	respondWithError(w, status, appErr.Code, appErr.Message)
}

func respondWithError(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"code": "internal", "message": "Error marshaling JSON response"}}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Validation("invalid request payload: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Validation("invalid %s", name)
	}
	return id, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Validation("invalid %s %q", key, raw)
	}
	return v, nil
}

func queryInt64(r *http.Request, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.Validation("invalid %s %q", key, raw)
	}
	return v, nil
}

// queryDate parses a YYYY-MM-DD parameter. endOfDay moves the instant to the
// last nanosecond of that day so inclusive ranges work.
func queryDate(r *http.Request, key string, endOfDay bool) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, apperrors.Validation("invalid %s format, use YYYY-MM-DD", key)
	}
	if endOfDay {
		d = d.Add(24*time.Hour - time.Nanosecond)
	}
	return &d, nil
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}
