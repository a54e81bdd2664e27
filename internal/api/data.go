package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/clipstash/clipstash/internal/auth"
	"github.com/clipstash/clipstash/internal/logging"
	"github.com/clipstash/clipstash/internal/meta"
	"github.com/clipstash/clipstash/internal/metrics"
	"github.com/clipstash/clipstash/internal/model"
	"github.com/clipstash/clipstash/internal/storage"
)

// Content is pasted text, not a file; cap the JSON body well below the
// file limits.
const maxContentSize = 4 << 20

type dataResponse struct {
	Word        string `json:"word,omitempty"`
	ViewWord    string `json:"view_word,omitempty"`
	Content     string `json:"content"`
	ExpireValue int64  `json:"expire_value"`
	ExpireTime  int64  `json:"expire_time"`
	ViewCount   int64  `json:"view_count"`
	HasPassword bool   `json:"has_password"`
	Exists      bool   `json:"exists"`
}

// buildDataResponse shapes the keyword for the requester. View-mode
// responses never carry the edit word.
func buildDataResponse(kw *model.Keyword, content string, view bool) *dataResponse {
	resp := &dataResponse{
		Content:     content,
		ExpireValue: kw.ExpireValue,
		ExpireTime:  kw.ExpireTime,
		ViewCount:   kw.ViewCount,
		HasPassword: kw.HasPassword(),
		Exists:      true,
	}
	if view {
		resp.ViewWord = kw.ViewWord
	} else {
		resp.Word = kw.Word
		resp.ViewWord = kw.ViewWord
	}
	return resp
}

// ─── Read ───────────────────────────────────────────────────────────────────

func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	res, ok := s.authorize(w, r)
	if !ok {
		return
	}

	if res.Creating {
		s.sendData(w, http.StatusOK, &dataResponse{Word: r.PathValue("word")})
		return
	}

	kw := res.Keyword
	content, err := s.loadContent(r, kw.Word)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to load content")
		return
	}

	now := model.NowMillis()
	if _, err := s.store.Update(r.Context(), model.TableKeyword, meta.Row{
		"last_view_time": now,
		"view_count":     kw.ViewCount + 1,
	}, wordCond(kw.Word)); err != nil {
		logging.Warn("update view stats", zap.String("word", kw.Word), zap.Error(err))
	}
	kw.ViewCount++

	metrics.RecordDownload(int64(len(content)), true)
	s.sendData(w, http.StatusOK, buildDataResponse(kw, content, res.ViewMode))
}

func (s *Server) loadContent(r *http.Request, word string) (string, error) {
	dl, err := s.backend.Download(r.Context(), storage.ContentPrefix(word), storage.ContentName(), nil)
	if err != nil {
		return "", err
	}
	if dl.Status != storage.StatusOK {
		// No content object yet; an empty paste is a valid state.
		return "", nil
	}
	return dl.Text()
}

// ─── Write ──────────────────────────────────────────────────────────────────

type saveDataRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleSaveData(w http.ResponseWriter, r *http.Request) {
	res, ok := s.authorize(w, r)
	if !ok {
		return
	}

	var req saveDataRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxContentSize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	word := requestWord(r, res)
	if res.Creating && !model.ValidWord(word) {
		s.sendError(w, http.StatusBadRequest, "word must be 3-20 characters of letters, digits or underscore")
		return
	}
	now := model.NowMillis()

	if err := s.storeContent(r, word, req.Content); err != nil {
		metrics.RecordUpload(int64(len(req.Content)), false)
		s.sendError(w, http.StatusInternalServerError, "failed to store content")
		return
	}
	metrics.RecordUpload(int64(len(req.Content)), true)

	if res.Creating {
		kw := &model.Keyword{
			Word:       word,
			ViewWord:   model.NewViewWord(),
			CreateTime: now,
			UpdateTime: now,
		}
		if err := s.store.Insert(r.Context(), model.TableKeyword, kw.ToRow()); err != nil {
			// The content blob is already written; it stays orphaned
			// until the word is retried or reaped. Log the gap.
			logging.Warn("orphaned content blob",
				zap.String("word", word), zap.Error(err))
			s.sendError(w, http.StatusInternalServerError, "failed to create keyword")
			return
		}
		s.sendData(w, http.StatusCreated, buildDataResponse(kw, req.Content, false))
		return
	}

	kw := res.Keyword
	update := meta.Row{"update_time": now}
	if kw.ExpireValue > 0 {
		// Activity renews the expiry window.
		update["expire_time"] = now + kw.ExpireValue*1000
		kw.ExpireTime = now + kw.ExpireValue*1000
	}
	if _, err := s.store.Update(r.Context(), model.TableKeyword, update, wordCond(kw.Word)); err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to update keyword")
		return
	}
	kw.UpdateTime = now
	s.sendData(w, http.StatusOK, buildDataResponse(kw, req.Content, res.ViewMode))
}

// storeContent writes the text body, or removes the object when the
// new content is empty (Upload rejects zero-length streams).
func (s *Server) storeContent(r *http.Request, word, content string) error {
	if content == "" {
		return s.backend.Delete(r.Context(), storage.ContentPrefix(word), storage.ContentName())
	}
	_, err := s.backend.Upload(r.Context(), storage.ContentPrefix(word), storage.ContentName(),
		int64(len(content)), strings.NewReader(content))
	return err
}

func (s *Server) handleDeleteData(w http.ResponseWriter, r *http.Request) {
	res, ok := s.authorize(w, r)
	if !ok {
		return
	}
	if res.Creating {
		s.sendError(w, http.StatusNotFound, "keyword not found")
		return
	}

	if err := s.reaper.DeleteKeyword(r.Context(), res.Keyword); err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to delete keyword")
		return
	}
	s.clearAuthCookie(w)
	s.sendData(w, http.StatusOK, map[string]bool{"deleted": true})
}

// ─── Settings ───────────────────────────────────────────────────────────────

type settingsRequest struct {
	Password    *string `json:"password,omitempty"`
	ExpireValue *int64  `json:"expire_value,omitempty"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	res, ok := s.authorize(w, r)
	if !ok {
		return
	}
	if res.Creating {
		s.sendError(w, http.StatusNotFound, "keyword not found")
		return
	}
	kw := res.Keyword

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := model.NowMillis()
	update := meta.Row{"update_time": now}

	if req.Password != nil && *req.Password != model.PasswordPlaceholder {
		if *req.Password == "" {
			update["password"] = ""
			kw.Password = ""
		} else {
			hash := s.hasher.Hash(*req.Password, kw.Word)
			update["password"] = hash
			kw.Password = hash
		}
	}

	if req.ExpireValue != nil {
		v := *req.ExpireValue
		if !model.ValidExpireValue(v) {
			s.sendError(w, http.StatusBadRequest, "expire_value not allowed")
			return
		}
		update["expire_value"] = v
		kw.ExpireValue = v
		if v == 0 {
			update["expire_time"] = int64(0)
			kw.ExpireTime = 0
		} else {
			update["expire_time"] = now + v*1000
			kw.ExpireTime = now + v*1000
		}
	}

	if _, err := s.store.Update(r.Context(), model.TableKeyword, update, wordCond(kw.Word)); err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to update settings")
		return
	}

	s.sendData(w, http.StatusOK, map[string]any{
		"has_password": kw.HasPassword(),
		"expire_value": kw.ExpireValue,
		"expire_time":  kw.ExpireTime,
	})
}

func (s *Server) handleRotateViewWord(w http.ResponseWriter, r *http.Request) {
	res, ok := s.authorize(w, r)
	if !ok {
		return
	}
	if res.Creating {
		s.sendError(w, http.StatusNotFound, "keyword not found")
		return
	}
	kw := res.Keyword

	viewWord := model.NewViewWord()
	if _, err := s.store.Update(r.Context(), model.TableKeyword, meta.Row{
		"view_word":   viewWord,
		"update_time": model.NowMillis(),
	}, wordCond(kw.Word)); err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to rotate view word")
		return
	}

	// Old delegated tokens were scoped to the previous view word.
	if _, err := s.store.Delete(r.Context(), model.TableTokens, wordCond(kw.Word)); err != nil {
		logging.Warn("revoke session tokens", zap.String("word", kw.Word), zap.Error(err))
	}

	s.sendData(w, http.StatusOK, map[string]string{"view_word": viewWord})
}

func wordCond(word string) []meta.Cond {
	return []meta.Cond{{Key: "word", Op: "=", Value: word}}
}

// ensureKeyword creates the metadata row when a file operation arrives
// before any content save.
func (s *Server) ensureKeyword(r *http.Request, res *auth.Result) (*model.Keyword, int, string) {
	if !res.Creating {
		return res.Keyword, 0, ""
	}
	word := r.PathValue("word")
	if !model.ValidWord(word) {
		return nil, http.StatusBadRequest, "word must be 3-20 characters of letters, digits or underscore"
	}
	now := model.NowMillis()
	kw := &model.Keyword{
		Word:       word,
		ViewWord:   model.NewViewWord(),
		CreateTime: now,
		UpdateTime: now,
	}
	if err := s.store.Insert(r.Context(), model.TableKeyword, kw.ToRow()); err != nil {
		logging.Error("create keyword", zap.String("word", word), zap.Error(err))
		return nil, http.StatusInternalServerError, "failed to create keyword"
	}
	return kw, 0, ""
}
