package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"treasury-service/internal/models"
	"treasury-service/internal/services"
)

type FundEventHandler struct {
	events *services.FundEventService
	logger *zap.Logger
}

func NewFundEventHandler(events *services.FundEventService, logger *zap.Logger) *FundEventHandler {
	return &FundEventHandler{events: events, logger: logger}
}

// stageFromPath maps the URL segment to a line item stage.
func stageFromPath(r *http.Request) models.LineItemStage {
	if mux.Vars(r)["stage"] == "actuals" {
		return models.StageActual
	}
	return models.StageBudget
}

func (h *FundEventHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		q   models.FundEventQuery
		err error
	)
	q.Status = models.FundEventStatus(r.URL.Query().Get("status"))
	if q.FundID, err = queryInt64(r, "fund_id"); err == nil {
		if q.Limit, err = queryInt(r, "limit"); err == nil {
			q.Offset, err = queryInt(r, "offset")
		}
	}
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	list, err := h.events.List(r.Context(), principalFrom(r.Context()), q)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, list)
}

func (h *FundEventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	detail, err := h.events.Get(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, detail)
}

func (h *FundEventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.FundEventInput
	if err := decodeJSON(r, &in); err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	ev, err := h.events.Create(r.Context(), principalFrom(r.Context()), in)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, ev)
}

func (h *FundEventHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	var in services.FundEventInput
	if err := decodeJSON(r, &in); err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	ev, err := h.events.Update(r.Context(), principalFrom(r.Context()), id, in)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ev)
}

func (h *FundEventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	if err := h.events.Delete(r.Context(), principalFrom(r.Context()), id); err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Fund event deleted"})
}

func (h *FundEventHandler) transition(w http.ResponseWriter, r *http.Request, withReason bool, fn func(id int64, req ReasonRequest) (*models.FundEvent, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	var req ReasonRequest
	if withReason {
		if err := decodeJSON(r, &req); err != nil {
			respondWithServiceError(w, r, h.logger, err)
			return
		}
	}
	ev, err := fn(id, req)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ev)
}

func (h *FundEventHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, false, func(id int64, _ ReasonRequest) (*models.FundEvent, error) {
		return h.events.Submit(r.Context(), principalFrom(r.Context()), id)
	})
}

func (h *FundEventHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, false, func(id int64, _ ReasonRequest) (*models.FundEvent, error) {
		return h.events.Approve(r.Context(), principalFrom(r.Context()), id)
	})
}

func (h *FundEventHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, true, func(id int64, req ReasonRequest) (*models.FundEvent, error) {
		return h.events.Reject(r.Context(), principalFrom(r.Context()), id, req.Reason)
	})
}

func (h *FundEventHandler) RequestRevision(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, true, func(id int64, req ReasonRequest) (*models.FundEvent, error) {
		notes := req.Notes
		if notes == "" {
			notes = req.Reason
		}
		return h.events.RequestRevision(r.Context(), principalFrom(r.Context()), id, notes)
	})
}

func (h *FundEventHandler) Variance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	variance, err := h.events.Variance(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, variance)
}

func (h *FundEventHandler) AddLineItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	var in services.LineItemInput
	if err := decodeJSON(r, &in); err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	item, err := h.events.AddLineItem(r.Context(), principalFrom(r.Context()), id, stageFromPath(r), in)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, item)
}

func (h *FundEventHandler) UpdateLineItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	itemID, err := pathID(r, "itemId")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	var in services.LineItemInput
	if err := decodeJSON(r, &in); err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	item, err := h.events.UpdateLineItem(r.Context(), principalFrom(r.Context()), id, stageFromPath(r), itemID, in)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, item)
}

func (h *FundEventHandler) DeleteLineItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	itemID, err := pathID(r, "itemId")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	if err := h.events.DeleteLineItem(r.Context(), principalFrom(r.Context()), id, stageFromPath(r), itemID); err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Line item deleted"})
}
