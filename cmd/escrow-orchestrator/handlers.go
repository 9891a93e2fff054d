package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	internalerrors "github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/orchestrator"
)

// mountOrchestratorRoutes exposes the orchestrator façade's operations as a
// thin JSON API. §6 marks the full domain HTTP façade out of this core's
// scope, but this process is the façade's only consumer today, so it hosts
// a minimal one rather than leaving the façade unreachable.
func mountOrchestratorRoutes(router chi.Router, orch *orchestrator.Orchestrator) {
	router.Route("/v1/transactions", func(r chi.Router) {
		r.Post("/", jsonHandler(func(r *http.Request, in *orchestrator.InitiateInput) (interface{}, error) {
			return orch.Initiate(r.Context(), *in)
		}))

		r.Route("/{transactionID}", func(r chi.Router) {
			r.Post("/workflow", withTransactionID(func(r *http.Request, id string) (interface{}, error) {
				return orch.CreateVerificationWorkflow(r.Context(), orchestrator.CreateVerificationWorkflowInput{TransactionID: id})
			}))

			r.Post("/verifications/complete", jsonHandlerWithID(func(r *http.Request, id string, in *orchestrator.ProcessVerificationCompletionInput) (interface{}, error) {
				in.TransactionID = id
				return orch.ProcessVerificationCompletion(r.Context(), *in)
			}))

			r.Post("/settlement/preview", jsonHandlerWithID(func(r *http.Request, id string, in *orchestrator.SettlementInput) (interface{}, error) {
				in.TransactionID = id
				return orch.PreviewSettlement(r.Context(), *in)
			}))

			r.Post("/settlement/execute", jsonHandlerWithID(func(r *http.Request, id string, in *orchestrator.SettlementInput) (interface{}, error) {
				in.TransactionID = id
				return orch.ExecuteSettlement(r.Context(), *in)
			}))

			r.Post("/cancel", jsonHandlerWithID(func(r *http.Request, id string, in *orchestrator.CancelInput) (interface{}, error) {
				in.TransactionID = id
				return orch.Cancel(r.Context(), *in)
			}))

			r.Post("/disputes", jsonHandlerWithID(func(r *http.Request, id string, in *orchestrator.RaiseDisputeInput) (interface{}, error) {
				in.TransactionID = id
				dispute, options, err := orch.RaiseDispute(r.Context(), *in)
				if err != nil {
					return nil, err
				}
				return raiseDisputeResponse{Dispute: dispute, ResolutionOptions: options}, nil
			}))

			r.Post("/disputes/{disputeID}/resolve", jsonHandlerWithID(func(r *http.Request, id string, in *orchestrator.ResolveDisputeInput) (interface{}, error) {
				in.TransactionID = id
				in.DisputeID = chi.URLParam(r, "disputeID")
				return orch.ResolveDispute(r.Context(), *in)
			}))
		})
	})
}

type raiseDisputeResponse struct {
	Dispute           domain.Dispute           `json:"dispute"`
	ResolutionOptions []domain.ResolutionKind `json:"resolution_options"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, internalerrors.GetStatusCode(err), map[string]string{"error": internalerrors.SafeErrorMessage(err)})
}

// jsonHandler decodes the request body into a fresh *In, invokes fn, and
// writes the result (or the error's mapped status code) as JSON.
func jsonHandler[In any](fn func(r *http.Request, in *In) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in In
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
		}
		out, err := fn(r, &in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// jsonHandlerWithID is jsonHandler plus the {transactionID} chi URL param.
func jsonHandlerWithID[In any](fn func(r *http.Request, id string, in *In) (interface{}, error)) http.HandlerFunc {
	return jsonHandler(func(r *http.Request, in *In) (interface{}, error) {
		return fn(r, chi.URLParam(r, "transactionID"), in)
	})
}

// withTransactionID is for operations that take only the path's
// transaction ID, with no request body.
func withTransactionID(fn func(r *http.Request, id string) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := fn(r, chi.URLParam(r, "transactionID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}
