package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"perq/native/common"
	"perq/native/ledger"
	"perq/native/premium"
	"perq/native/simulator"
	"perq/storage/journal"
)

const maxBodyBytes = 1 << 20

type apiError struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error       apiError               `json:"error"`
	Transaction *simulator.Transaction `json:"transaction,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) (int, apiError) {
	if verr, ok := common.AsValidation(err); ok {
		return http.StatusUnprocessableEntity, apiError{Field: verr.Field, Code: string(verr.Code), Message: verr.Message}
	}
	switch {
	case errors.Is(err, simulator.ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, apiError{Code: "cancelled", Message: err.Error()}
	case errors.Is(err, common.ErrModulePaused):
		return http.StatusServiceUnavailable, apiError{Code: "paused", Message: err.Error()}
	case errors.Is(err, simulator.ErrClosed), errors.Is(err, journal.ErrClosed):
		return http.StatusServiceUnavailable, apiError{Code: "unavailable", Message: err.Error()}
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrNoPool), errors.Is(err, premium.ErrNoInsurance):
		return http.StatusNotFound, apiError{Code: "not_found", Message: err.Error()}
	case errors.Is(err, ledger.ErrPoolExists), errors.Is(err, ledger.ErrSelfRemoval), errors.Is(err, ledger.ErrKindChange):
		return http.StatusConflict, apiError{Code: "conflict", Message: err.Error()}
	}
	return http.StatusInternalServerError, apiError{Code: "internal", Message: "internal error"}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorBody{Error: body})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return common.Invalid("body", common.CodeInvalidFormat, "invalid request body: %v", err)
	}
	return nil
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Ledger.Snapshot()
	etag := `"` + snap.Digest + `"`
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	var kind ledger.Kind
	if raw := strings.TrimSpace(r.URL.Query().Get("kind")); raw != "" {
		parsed, err := ledger.ParseKind(raw)
		if err != nil {
			s.writeError(w, r, common.Invalid("kind", common.CodeInvalidFormat, "unknown account kind %q", raw))
			return
		}
		kind = parsed
	}
	accounts := s.deps.Ledger.Accounts(kind)
	if accounts == nil {
		accounts = []ledger.Account{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (s *Server) handleAddCard(w http.ResponseWriter, r *http.Request) {
	var in ledger.CardInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	card, err := s.deps.Ledger.AddCard(in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

func (s *Server) handlePatchAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.deps.Ledger.Account(id); !ok {
		s.writeError(w, r, ledger.ErrAccountNotFound)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, common.Invalid("body", common.CodeInvalidFormat, "unreadable body"))
		return
	}
	if err := s.deps.Ledger.UpdateAccount(id, ledger.MergeJSON(raw)); err != nil {
		s.writeError(w, r, err)
		return
	}
	account, _ := s.deps.Ledger.Account(id)
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Ledger.RemoveAccount(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddListing(w http.ResponseWriter, r *http.Request) {
	var in ledger.ListingInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	listing, err := s.deps.Ledger.AddListing(in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

type createPoolRequest struct {
	Name  string `json:"name"`
	Self  string `json:"self,omitempty"`
	Email string `json:"email,omitempty"`
}

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	pool, err := s.deps.Ledger.CreatePool(req.Name, ledger.MemberInput{Name: req.Self, Email: req.Email})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

func (s *Server) handleLeavePool(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Ledger.LeavePool(); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	code, err := s.deps.Ledger.InviteCode(req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"inviteCode": code, "email": req.Email})
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Ledger.RemoveMember(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type executeRequest struct {
	Kind string `json:"kind"`
	simulator.OperationFields
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	op, err := simulator.Decode(req.Kind, req.OperationFields)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tx, err := s.deps.Simulator.Execute(r.Context(), op)
	if err != nil {
		status, body := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("transaction failed", "tx_id", tx.ID, "error", err)
		}
		var txp *simulator.Transaction
		if tx.ID != "" {
			txp = &tx
		}
		writeJSON(w, status, errorBody{Error: body, Transaction: txp})
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeJSON(w, http.StatusOK, map[string]any{"transactions": []journal.Entry{}})
		return
	}
	q := r.URL.Query()
	filter := journal.Filter{Kind: q.Get("kind"), State: q.Get("state"), Limit: 100}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeError(w, r, common.Invalid("limit", common.CodeInvalidFormat, "limit must be a positive integer"))
			return
		}
		filter.Limit = limit
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, common.Invalid("since", common.CodeInvalidFormat, "since must be RFC3339"))
			return
		}
		filter.Since = since
	}
	entries, err := s.deps.Journal.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": entries})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Scanner.Scan())
}

func (s *Server) handlePremium(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Premium.Overview())
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlanID string `json:"planId"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	insurance, err := s.deps.Premium.Subscribe(req.PlanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, insurance)
}

func (s *Server) handleCancelInsurance(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Premium.CancelInsurance(); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMembership(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Member bool `json:"member"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Premium.SetMembership(req.Member); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"perqPlus": req.Member})
}

func (s *Server) handleLiquidity(w http.ResponseWriter, r *http.Request) {
	points, err := strconv.ParseInt(r.URL.Query().Get("points"), 10, 64)
	if err != nil {
		s.writeError(w, r, common.Invalid("points", common.CodeInvalidFormat, "points must be an integer"))
		return
	}
	offer, err := s.deps.Premium.Liquidity(points)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Catalog)
}
