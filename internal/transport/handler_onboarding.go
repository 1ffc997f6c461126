package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/partnerhub/internal/catalog"
	"github.com/pitabwire/partnerhub/internal/onboarding"
	"github.com/pitabwire/partnerhub/internal/openapi"
	"github.com/pitabwire/partnerhub/internal/workflow"
	"github.com/pitabwire/partnerhub/model"
)

// maxHistoryLimit bounds the history page size.
const maxHistoryLimit = 500

type catalogStage struct {
	catalog.StageMetadata
	Position     int                    `json:"position"`
	DefaultTasks []model.OnboardingTask `json:"default_tasks"`
}

func handleListStages() http.HandlerFunc {
	stages := make([]catalogStage, 0, model.StageCount)
	for i, meta := range catalog.Stages() {
		stages = append(stages, catalogStage{
			StageMetadata: meta,
			Position:      i,
			DefaultTasks:  catalog.DefaultTasks(meta.Stage),
		})
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"stages": stages})
	}
}

func handleStartOnboarding(ctrl *workflow.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		rec, err := ctrl.StartOnboarding(r.Context(), chi.URLParam(r, "partnerId"), rctx.Actor())
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, rec)
	}
}

func handleGetOnboarding(ctrl *workflow.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := ctrl.GetOnboarding(r.Context(), chi.URLParam(r, "partnerId"))
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, rec)
	}
}

func handleGetHistory(ctrl *workflow.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
		events, err := ctrl.History(r.Context(), chi.URLParam(r, "partnerId"), workflow.EventFilters{
			Event: r.URL.Query().Get("event"),
			Limit: limit,
		})
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"events": events})
	}
}

func handleRequestStageChange(ctrl *workflow.Controller, api *openapi.Document) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		var body struct {
			Stage  string `json:"stage"`
			Reason string `json:"reason"`
		}
		if err := decodeBody(r, api, "requestStageChange", &body); err != nil {
			writeRequestError(w, r, err)
			return
		}
		stage, err := model.ParseStage(body.Stage)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		result, err := ctrl.RequestStageChange(r.Context(), chi.URLParam(r, "partnerId"), stage, rctx.Actor(), body.Reason)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		status := http.StatusOK
		if !result.Applied {
			status = http.StatusAccepted
		}
		WriteJSON(w, status, result)
	}
}

func handleUpdateStage(ctrl *workflow.Controller, api *openapi.Document) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		stage, err := model.ParseStage(chi.URLParam(r, "stage"))
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		var body struct {
			Status     *model.StageStatus `json:"status"`
			AssignedTo *string            `json:"assigned_to"`
		}
		if err := decodeBody(r, api, "updateStage", &body); err != nil {
			writeRequestError(w, r, err)
			return
		}
		rec, err := ctrl.UpdateStage(r.Context(), chi.URLParam(r, "partnerId"), stage, onboarding.StageUpdate{
			Status:     body.Status,
			AssignedTo: body.AssignedTo,
		}, rctx.Actor())
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, rec)
	}
}

func handleToggleTask(ctrl *workflow.Controller, api *openapi.Document) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		stage, err := model.ParseStage(chi.URLParam(r, "stage"))
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		var body struct {
			Completed *bool `json:"completed"`
		}
		if err := decodeBody(r, api, "toggleTask", &body); err != nil {
			writeRequestError(w, r, err)
			return
		}
		if body.Completed == nil {
			writeRequestError(w, r, model.NewRequiredFieldError("completed"))
			return
		}

		rec, err := ctrl.ToggleTask(r.Context(), chi.URLParam(r, "partnerId"), stage, chi.URLParam(r, "taskId"), *body.Completed, rctx.Actor())
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, rec)
	}
}
