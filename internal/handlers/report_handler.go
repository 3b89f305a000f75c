package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"treasury-service/internal/models"
	"treasury-service/internal/services"
)

type ReportHandler struct {
	reports *services.ReportService
	logger  *zap.Logger
}

func NewReportHandler(reports *services.ReportService, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, logger: logger}
}

// ReasonRequest is the body of reject and revision requests.
type ReasonRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

func reportQuery(r *http.Request) (models.ReportQuery, error) {
	var (
		q   models.ReportQuery
		err error
	)
	if q.ChurchID, err = queryInt64(r, "church_id"); err != nil {
		return q, err
	}
	if q.Month, err = queryInt(r, "month"); err != nil {
		return q, err
	}
	if q.Year, err = queryInt(r, "year"); err != nil {
		return q, err
	}
	if q.Limit, err = queryInt(r, "limit"); err != nil {
		return q, err
	}
	if q.Offset, err = queryInt(r, "offset"); err != nil {
		return q, err
	}
	q.Status = models.ReportStatus(r.URL.Query().Get("status"))
	return q, nil
}

func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	q, err := reportQuery(r)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	page, err := h.reports.List(r.Context(), principalFrom(r.Context()), q)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, page)
}

func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	detail, err := h.reports.Get(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, detail)
}

func (h *ReportHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.ReportInput
	if err := decodeJSON(r, &in); err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	rep, err := h.reports.Create(r.Context(), principalFrom(r.Context()), in)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, rep)
}

// withReportInput decodes a ReportInput for the report in the path and
// hands both to fn.
func (h *ReportHandler) withReportInput(w http.ResponseWriter, r *http.Request, fn func(id int64, in services.ReportInput) (*models.MonthlyReport, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	var in services.ReportInput
	if err := decodeJSON(r, &in); err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	rep, err := fn(id, in)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rep)
}

func (h *ReportHandler) Update(w http.ResponseWriter, r *http.Request) {
	h.withReportInput(w, r, func(id int64, in services.ReportInput) (*models.MonthlyReport, error) {
		return h.reports.Update(r.Context(), principalFrom(r.Context()), id, in)
	})
}

func (h *ReportHandler) Override(w http.ResponseWriter, r *http.Request) {
	h.withReportInput(w, r, func(id int64, in services.ReportInput) (*models.MonthlyReport, error) {
		return h.reports.Override(r.Context(), principalFrom(r.Context()), id, in)
	})
}

func (h *ReportHandler) SetContributors(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	var in []services.ContributorInput
	if err := decodeJSON(r, &in); err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	contributors, err := h.reports.SetContributors(r.Context(), principalFrom(r.Context()), id, in)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, contributors)
}

// transition runs a body-less state change on the report in the path.
func (h *ReportHandler) transition(w http.ResponseWriter, r *http.Request, fn func(id int64) (*models.MonthlyReport, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	rep, err := fn(id)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rep)
}

func (h *ReportHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id int64) (*models.MonthlyReport, error) {
		return h.reports.Submit(r.Context(), principalFrom(r.Context()), id)
	})
}

func (h *ReportHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id int64) (*models.MonthlyReport, error) {
		return h.reports.Approve(r.Context(), principalFrom(r.Context()), id)
	})
}

func (h *ReportHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	h.transition(w, r, func(id int64) (*models.MonthlyReport, error) {
		return h.reports.Reject(r.Context(), principalFrom(r.Context()), id, req.Reason)
	})
}

func (h *ReportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	if err := h.reports.Delete(r.Context(), principalFrom(r.Context()), id); err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Report deleted"})
}

type ChurchHandler struct {
	churches *services.ChurchService
	reports  *services.ReportService
	logger   *zap.Logger
}

func NewChurchHandler(churches *services.ChurchService, reports *services.ReportService, logger *zap.Logger) *ChurchHandler {
	return &ChurchHandler{churches: churches, reports: reports, logger: logger}
}

func (h *ChurchHandler) List(w http.ResponseWriter, r *http.Request) {
	churches, err := h.churches.List(r.Context(), principalFrom(r.Context()))
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, churches)
}

func (h *ChurchHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	church, err := h.churches.Get(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, church)
}

func (h *ChurchHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.ChurchInput
	if err := decodeJSON(r, &in); err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	church, err := h.churches.Create(r.Context(), principalFrom(r.Context()), in)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, church)
}

func (h *ChurchHandler) LastReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	last, err := h.reports.LastForChurch(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, last)
}
