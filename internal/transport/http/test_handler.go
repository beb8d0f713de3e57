package http

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"qmaster-service/internal/app"
	"qmaster-service/internal/domain"
	"qmaster-service/internal/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type createTestResponse struct {
	Token string `json:"token"`
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Pools.View(r.Context(), chi.URLParam(r, "id"), requesterID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) invalidateItem(w http.ResponseWriter, r *http.Request) {
	err := s.svc.Pools.Invalidate(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemId"), requesterID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) questionHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.svc.Leaderboard.QuestionHistory(r.Context(), chi.URLParam(r, "id"), requesterID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) createTest(w http.ResponseWriter, r *http.Request) {
	var req app.CreateTestRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.CreatedBy = requesterID(r)
	token, err := s.svc.Tests.CreateTest(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createTestResponse{Token: token})
}

func (s *Server) listTests(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.svc.Tests.ListByCreator(r.Context(), requesterID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) joinTest(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Tests.Join(r.Context(), chi.URLParam(r, "token"), requesterID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) submitTest(w http.ResponseWriter, r *http.Request) {
	var answers domain.Answers
	if !s.decode(w, r, &answers) {
		return
	}
	result, err := s.svc.Scorer.Grade(r.Context(), chi.URLParam(r, "token"), requesterID(r), answers)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := s.svc.Leaderboard.Rank(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (s *Server) exportLeaderboard(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	session, err := s.svc.Tests.Get(r.Context(), token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lb, err := s.svc.Leaderboard.Rank(r.Context(), token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := report.LeaderboardXLSX(lb, session.Subject)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInternal, err))
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="leaderboard-%s.xlsx"`, token))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) results(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Leaderboard.Results(r.Context(), chi.URLParam(r, "token"), requesterID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) mySubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := s.svc.Leaderboard.Submission(r.Context(), chi.URLParam(r, "token"), requesterID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	subs, err := s.svc.Leaderboard.History(r.Context(), requesterID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}
