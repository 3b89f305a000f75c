package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"treasury-service/internal/services"
)

// Services bundles the workflows exposed over HTTP.
type Services struct {
	Ledger     *services.LedgerService
	Ingestion  *services.IngestionService
	Reports    *services.ReportService
	FundEvents *services.FundEventService
	Churches   *services.ChurchService
}

func SetupRouter(svc Services, auth *Authenticator, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware(logger))

	router.HandleFunc("/health", healthCheckHandler).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.Use(auth.Middleware)

	funds := NewFundHandler(svc.Ledger, logger)
	api.HandleFunc("/funds", funds.List).Methods(http.MethodGet)
	api.HandleFunc("/funds", funds.Create).Methods(http.MethodPost)
	api.HandleFunc("/funds/{id}", funds.Get).Methods(http.MethodGet)
	api.HandleFunc("/funds/{id}", funds.Update).Methods(http.MethodPut)
	api.HandleFunc("/funds/{id}/archive", funds.Archive).Methods(http.MethodPost)
	api.HandleFunc("/funds/{id}/ledger", funds.Ledger).Methods(http.MethodGet)
	api.HandleFunc("/funds/{id}/reconcile", funds.Reconcile).Methods(http.MethodPost)
	api.HandleFunc("/transfers", funds.Transfer).Methods(http.MethodPost)

	transactions := NewTransactionHandler(svc.Ledger, logger)
	data := NewDataHandler(svc.Ingestion, logger)
	api.HandleFunc("/transactions", transactions.List).Methods(http.MethodGet)
	api.HandleFunc("/transactions", transactions.Create).Methods(http.MethodPost)
	api.HandleFunc("/transactions/bulk", data.CreateTransactionsBulk).Methods(http.MethodPost)
	api.HandleFunc("/transactions/{id}", transactions.Get).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}", transactions.Update).Methods(http.MethodPut)
	api.HandleFunc("/transactions/{id}", transactions.Delete).Methods(http.MethodDelete)

	reports := NewReportHandler(svc.Reports, logger)
	api.HandleFunc("/reports", reports.List).Methods(http.MethodGet)
	api.HandleFunc("/reports", reports.Create).Methods(http.MethodPost)
	api.HandleFunc("/reports/{id}", reports.Get).Methods(http.MethodGet)
	api.HandleFunc("/reports/{id}", reports.Update).Methods(http.MethodPut)
	api.HandleFunc("/reports/{id}", reports.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/reports/{id}/contributors", reports.SetContributors).Methods(http.MethodPut)
	api.HandleFunc("/reports/{id}/submit", reports.Submit).Methods(http.MethodPost)
	api.HandleFunc("/reports/{id}/approve", reports.Approve).Methods(http.MethodPost)
	api.HandleFunc("/reports/{id}/reject", reports.Reject).Methods(http.MethodPost)
	api.HandleFunc("/reports/{id}/override", reports.Override).Methods(http.MethodPost)

	churches := NewChurchHandler(svc.Churches, svc.Reports, logger)
	api.HandleFunc("/churches", churches.List).Methods(http.MethodGet)
	api.HandleFunc("/churches", churches.Create).Methods(http.MethodPost)
	api.HandleFunc("/churches/{id}", churches.Get).Methods(http.MethodGet)
	api.HandleFunc("/churches/{id}/reports/last", churches.LastReport).Methods(http.MethodGet)

	events := NewFundEventHandler(svc.FundEvents, logger)
	api.HandleFunc("/fund-events", events.List).Methods(http.MethodGet)
	api.HandleFunc("/fund-events", events.Create).Methods(http.MethodPost)
	api.HandleFunc("/fund-events/{id}", events.Get).Methods(http.MethodGet)
	api.HandleFunc("/fund-events/{id}", events.Update).Methods(http.MethodPut)
	api.HandleFunc("/fund-events/{id}", events.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/fund-events/{id}/submit", events.Submit).Methods(http.MethodPost)
	api.HandleFunc("/fund-events/{id}/approve", events.Approve).Methods(http.MethodPost)
	api.HandleFunc("/fund-events/{id}/reject", events.Reject).Methods(http.MethodPost)
	api.HandleFunc("/fund-events/{id}/revision", events.RequestRevision).Methods(http.MethodPost)
	api.HandleFunc("/fund-events/{id}/variance", events.Variance).Methods(http.MethodGet)
	api.HandleFunc("/fund-events/{id}/{stage:budget|actuals}", events.AddLineItem).Methods(http.MethodPost)
	api.HandleFunc("/fund-events/{id}/{stage:budget|actuals}/{itemId}", events.UpdateLineItem).Methods(http.MethodPut)
	api.HandleFunc("/fund-events/{id}/{stage:budget|actuals}/{itemId}", events.DeleteLineItem).Methods(http.MethodDelete)

	return router
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.Info("request",
				zap.String("request_id", requestIDFrom(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "healthy",
	}
	respondWithJSON(w, http.StatusOK, response)
}
