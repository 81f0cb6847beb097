package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"chongmu/internal/services"
	"chongmu/internal/snapshot"
)

const baseCurrency = services.BaseCurrency

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	in, ok := s.parseExpense(w, r)
	if !ok {
		return
	}
	snap, e, err := s.sessions.AddExpense(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body := sessionBody(snap)
	doc := snapshot.FromExpense(e)
	body.Expense = &doc
	NewJSONResponse().Status(http.StatusCreated).Body(body).Write(w)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	in, ok := s.parseExpense(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	snap, e, err := s.sessions.UpdateExpense(r.Context(), vars["id"], vars["eid"], in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body := sessionBody(snap)
	doc := snapshot.FromExpense(e)
	body.Expense = &doc
	NewJSONResponse().Body(body).Write(w)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	snap, err := s.sessions.DeleteExpense(r.Context(), vars["id"], vars["eid"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(sessionBody(snap)).Write(w)
}

func (s *Server) parseExpense(w http.ResponseWriter, r *http.Request) (services.ExpenseInput, bool) {
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return services.ExpenseInput{}, false
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, r, err)
		return services.ExpenseInput{}, false
	}
	return in, true
}
