package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"chongmu/internal/snapshot"
)

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	snap, p, err := s.sessions.AddParticipant(r.Context(), mux.Vars(r)["id"], sanitizeInput(req.Name))
	if err != nil {
		writeError(w, r, err)
		return
	}
	body := sessionBody(snap)
	doc := snapshot.FromParticipant(p)
	body.Participant = &doc
	NewJSONResponse().Status(http.StatusCreated).Body(body).Write(w)
}

func (s *Server) handleRenameParticipant(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	snap, err := s.sessions.RenameParticipant(r.Context(), vars["id"], vars["pid"], sanitizeInput(req.Name))
	if err != nil {
		writeError(w, r, err)
		return
	}
	body := sessionBody(snap)
	if p, ok := snap.Participant(vars["pid"]); ok {
		doc := snapshot.FromParticipant(p)
		body.Participant = &doc
	}
	NewJSONResponse().Body(body).Write(w)
}

// handleRemoveParticipant also strips the participant from every expense
// and reassigns expenses they paid.
func (s *Server) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	snap, err := s.sessions.RemoveParticipant(r.Context(), vars["id"], vars["pid"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(sessionBody(snap)).Write(w)
}
