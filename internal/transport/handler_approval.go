package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/partnerhub/internal/openapi"
	"github.com/pitabwire/partnerhub/internal/workflow"
	"github.com/pitabwire/partnerhub/model"
)

func handleListPending(ctrl *workflow.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requests, err := ctrl.ListPendingApprovals(r.Context(), r.URL.Query().Get("partner_id"))
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"requests": requests})
	}
}

func handleGetApproval(ctrl *workflow.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := ctrl.GetRequest(r.Context(), chi.URLParam(r, "requestId"))
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, req)
	}
}

func handleDecide(ctrl *workflow.Controller, api *openapi.Document) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		var body struct {
			Decision model.ReversalStatus `json:"decision"`
			Comments string               `json:"comments"`
		}
		if err := decodeBody(r, api, "decideApproval", &body); err != nil {
			writeRequestError(w, r, err)
			return
		}

		result, err := ctrl.Decide(r.Context(), chi.URLParam(r, "requestId"), body.Decision, rctx.Actor(), body.Comments)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

func handleComment(ctrl *workflow.Controller, api *openapi.Document) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		var body struct {
			Comments string `json:"comments"`
		}
		if err := decodeBody(r, api, "commentApproval", &body); err != nil {
			writeRequestError(w, r, err)
			return
		}

		req, err := ctrl.CommentOnRequest(r.Context(), chi.URLParam(r, "requestId"), body.Comments, rctx.Actor())
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, req)
	}
}
