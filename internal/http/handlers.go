package http

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"chongmu/internal/core"
	applog "chongmu/internal/log"
	"chongmu/internal/middleware/auth"
	"chongmu/internal/snapshot"
	"chongmu/internal/store"
)

// sessionResponse is the full session document plus the entity a
// request created or changed, if any.
type sessionResponse struct {
	snapshot.Document
	Participant *snapshot.ParticipantDoc `json:"participant,omitempty"`
	Expense     *snapshot.ExpenseDoc     `json:"expense,omitempty"`
}

type listResponse struct {
	Sessions []store.SessionInfo `json:"sessions"`
}

func sessionBody(snap core.Snapshot) sessionResponse {
	return sessionResponse{Document: snapshot.DocumentOf(snap)}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := s.sessions.ListSessions(r.Context(), auth.Owner(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if infos == nil {
		infos = []store.SessionInfo{}
	}
	NewJSONResponse().Body(listResponse{Sessions: infos}).Write(w)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := s.sessions.CreateSession(r.Context(), sanitizeInput(req.Title), auth.Owner(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/sessions/"+snap.SessionID).
		Body(sessionBody(snap)).
		Write(w)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(sessionBody(snap)).Write(w)
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := s.sessions.RenameSession(r.Context(), mux.Vars(r)["id"], sanitizeInput(req.Title))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(sessionBody(snap)).Write(w)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.sessions.DeleteSession(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	fields := applog.NewFields().WithOperation(applog.OpDelete)
	fields[applog.FieldSessionID] = id
	applog.FromContext(r.Context()).InfoContext(r.Context(), "Session deleted", fields.ToSlice()...)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Reset(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(sessionBody(snap)).Write(w)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	data, err := s.sessions.Export(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="chongmu-%s.json"`, id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := s.sessions.Import(r.Context(), data, auth.Owner(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/sessions/"+snap.SessionID).
		Body(sessionBody(snap)).
		Write(w)
}

// balanceView is one participant's line in a summary, in participant order.
type balanceView struct {
	ParticipantID string  `json:"participantId"`
	Name          string  `json:"name"`
	Paid          int64   `json:"paid"`
	Owed          float64 `json:"owed"`
	Net           int64   `json:"net"`
}

type settlementView struct {
	From     string `json:"from"`
	FromName string `json:"fromName"`
	To       string `json:"to"`
	ToName   string `json:"toName"`
	Amount   int64  `json:"amount"`
}

type summaryResponse struct {
	SessionID   string           `json:"sessionId"`
	Revision    int64            `json:"revision"`
	Currency    string           `json:"currency"`
	Balances    []balanceView    `json:"balances"`
	Settlements []settlementView `json:"settlements"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	snap, sum, err := s.sessions.Summary(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(buildSummary(snap, sum)).Write(w)
}

func buildSummary(snap core.Snapshot, sum core.Summary) summaryResponse {
	resp := summaryResponse{
		SessionID:   snap.SessionID,
		Revision:    snap.Revision,
		Currency:    baseCurrency,
		Balances:    make([]balanceView, 0, len(snap.Participants)),
		Settlements: make([]settlementView, 0, len(sum.Settlements)),
	}
	for _, p := range snap.Participants {
		b := sum.Balances[p.ID]
		resp.Balances = append(resp.Balances, balanceView{
			ParticipantID: p.ID,
			Name:          p.Name,
			Paid:          b.Paid,
			Owed:          b.Owed,
			Net:           b.Net,
		})
	}
	for _, st := range sum.Settlements {
		resp.Settlements = append(resp.Settlements, settlementView{
			From:     st.From,
			FromName: snap.NameOf(st.From),
			To:       st.To,
			ToName:   snap.NameOf(st.To),
			Amount:   st.Amount,
		})
	}
	return resp
}
