package api

import (
	"encoding/json"
	"net/http"

	"github.com/clipstash/clipstash/internal/metrics"
	"github.com/clipstash/clipstash/internal/model"
)

// Password endpoints sit outside the gate: verify is how a client
// obtains the bearer cookie in the first place, and config tells it
// whether one is needed at all.

type passVerifyRequest struct {
	Password string `json:"password"`
}

func (s *Server) handlePassVerify(w http.ResponseWriter, r *http.Request) {
	kw, err := s.resolveKeyword(r.Context(), r)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if kw == nil {
		s.sendError(w, http.StatusNotFound, "content not found")
		return
	}

	var req passVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if kw.HasPassword() && !s.hasher.Verify(req.Password, kw.Password, kw.Word) {
		metrics.RecordAuthAttempt(false)
		s.sendError(w, http.StatusUnauthorized, "wrong password")
		return
	}

	cookie, err := s.cipher.MintBearer(kw.Word, !viewMode(r), model.NowMillis())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "internal error")
		return
	}
	metrics.RecordAuthAttempt(true)
	s.setAuthCookie(w, cookie)
	s.sendData(w, http.StatusOK, map[string]bool{"verified": true})
}

func (s *Server) handlePassConfig(w http.ResponseWriter, r *http.Request) {
	kw, err := s.resolveKeyword(r.Context(), r)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if kw == nil {
		s.sendError(w, http.StatusNotFound, "content not found")
		return
	}
	s.sendData(w, http.StatusOK, map[string]bool{"has_password": kw.HasPassword()})
}
