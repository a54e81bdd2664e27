// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/clipstash/clipstash/internal/auth"
	"github.com/clipstash/clipstash/internal/config"
	"github.com/clipstash/clipstash/internal/logging"
	"github.com/clipstash/clipstash/internal/meta"
	"github.com/clipstash/clipstash/internal/metrics"
	"github.com/clipstash/clipstash/internal/model"
	"github.com/clipstash/clipstash/internal/reaper"
	"github.com/clipstash/clipstash/internal/storage"
)

// Cookie names. The auth cookie carries the sealed bearer token; the
// language cookie is an independent UI concern set once per client.
const (
	authCookieName = "cs_token"
	langCookieName = "cs_lang"
)

// Server is the HTTP server.
type Server struct {
	cfg      *config.Config
	store    meta.Store
	backend  storage.Adapter
	gate     *auth.Gate
	hasher   *auth.PasswordHasher
	cipher   *auth.TokenCipher
	sessions *auth.Sessions
	reaper   *reaper.Reaper
}

// NewServer creates a new server.
func NewServer(
	cfg *config.Config,
	store meta.Store,
	backend storage.Adapter,
	gate *auth.Gate,
	hasher *auth.PasswordHasher,
	cipher *auth.TokenCipher,
	sessions *auth.Sessions,
	rpr *reaper.Reaper,
) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		backend:  backend,
		gate:     gate,
		hasher:   hasher,
		cipher:   cipher,
		sessions: sessions,
		reaper:   rpr,
	}
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Edit mode: the word is the owner secret.
	s.registerKeywordRoutes(mux, "/{word}")

	// View mode: identical surface under the read-only secret. The
	// gate rejects every mutating method before any handler logic, so
	// registering the full set keeps both trees symmetrical.
	s.registerKeywordRoutes(mux, "/v/{viewWord}")

	return metrics.Middleware(logging.Middleware(s.recover(mux)))
}

func (s *Server) registerKeywordRoutes(mux *http.ServeMux, base string) {
	mux.HandleFunc("GET "+base+"/data", s.handleGetData)
	mux.HandleFunc("POST "+base+"/data", s.handleSaveData)
	mux.HandleFunc("PUT "+base+"/data", s.handleSaveData)
	mux.HandleFunc("DELETE "+base+"/data", s.handleDeleteData)
	mux.HandleFunc("PATCH "+base+"/data/settings", s.handleSettings)
	mux.HandleFunc("PATCH "+base+"/data/view-word", s.handleRotateViewWord)

	mux.HandleFunc("GET "+base+"/file/list", s.handleFileList)
	mux.HandleFunc("GET "+base+"/file/download", s.handleFileDownload)
	mux.HandleFunc("GET "+base+"/file/token", s.handleFileToken)
	mux.HandleFunc("POST "+base+"/file/{name}", s.handleFileUpload)
	mux.HandleFunc("DELETE "+base+"/file", s.handleFileDelete)
	mux.HandleFunc("DELETE "+base+"/file/all", s.handleFileDeleteAll)

	mux.HandleFunc("POST "+base+"/file/multipart/init", s.handleMultipartInit)
	mux.HandleFunc("POST "+base+"/file/multipart/chunk/{uploadId}/{part}", s.handleMultipartChunk)
	mux.HandleFunc("POST "+base+"/file/multipart/complete/{uploadId}", s.handleMultipartComplete)
	mux.HandleFunc("POST "+base+"/file/multipart/cancel", s.handleMultipartCancel)

	mux.HandleFunc("POST "+base+"/pass/verify", s.handlePassVerify)
	mux.HandleFunc("GET "+base+"/pass/config", s.handlePassConfig)
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Gate integration ───────────────────────────────────────────────────────

// authorize runs the gate for the request, applies its cookie intents
// and writes the denial response itself. Handlers proceed only on
// ok=true.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (*auth.Result, bool) {
	req := s.gateRequest(r)

	res, err := s.gate.Check(r.Context(), req)
	if err != nil {
		logging.Error("authentication gate", zap.String("path", r.URL.Path), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}

	s.applyCookies(w, r, res)

	if !res.Authorized {
		s.sendError(w, res.Status, res.Msg)
		return nil, false
	}
	return res, true
}

func (s *Server) gateRequest(r *http.Request) *auth.Request {
	req := &auth.Request{
		Word:     r.PathValue("word"),
		ViewWord: r.PathValue("viewWord"),
		Method:   r.Method,
	}
	if c, err := r.Cookie(authCookieName); err == nil {
		req.Bearer = c.Value
	}
	return req
}

func (s *Server) applyCookies(w http.ResponseWriter, r *http.Request, res *auth.Result) {
	if res.SetAuthCookie != "" {
		s.setAuthCookie(w, res.SetAuthCookie)
	}
	if res.ClearAuthCookie {
		s.clearAuthCookie(w)
	}
	if _, err := r.Cookie(langCookieName); err != nil {
		http.SetCookie(w, &http.Cookie{
			Name:  langCookieName,
			Value: detectLanguage(r, s.cfg.DefaultLanguage),
			Path:  "/",
		})
	}
}

func (s *Server) setAuthCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(auth.BearerTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// detectLanguage takes the first tag of Accept-Language, falling back
// to the configured default.
func detectLanguage(r *http.Request, fallback string) string {
	header := r.Header.Get("Accept-Language")
	if header == "" {
		return fallback
	}
	tag := strings.TrimSpace(strings.SplitN(header, ",", 2)[0])
	if i := strings.IndexByte(tag, ';'); i >= 0 {
		tag = tag[:i]
	}
	if tag == "" || tag == "*" {
		return fallback
	}
	return tag
}

// resolveKeyword loads the row for the request identity without any
// authorization, expiring it inline when overdue. Used by the
// endpoints that must work before a bearer cookie exists (password
// verify/config, token downloads).
func (s *Server) resolveKeyword(ctx context.Context, r *http.Request) (*model.Keyword, error) {
	var where []meta.Cond
	if vw := r.PathValue("viewWord"); vw != "" {
		where = []meta.Cond{{Key: "view_word", Op: "=", Value: vw}}
	} else {
		where = []meta.Cond{{Key: "word", Op: "=", Value: r.PathValue("word")}}
	}
	row, err := s.store.First(ctx, model.TableKeyword, where)
	if err != nil {
		return nil, fmt.Errorf("resolve keyword: %w", err)
	}
	kw := model.KeywordFromRow(row)
	if kw != nil && kw.Expired(model.NowMillis()) {
		if err := s.reaper.DeleteKeyword(ctx, kw); err != nil {
			return nil, fmt.Errorf("expire keyword: %w", err)
		}
		kw = nil
	}
	return kw, nil
}

// viewMode reports whether the request came in through the read-only
// tree.
func viewMode(r *http.Request) bool { return r.PathValue("viewWord") != "" }

// requestWord returns the namespace word for an authorized request. In
// view mode only the resolved row knows it.
func requestWord(r *http.Request, res *auth.Result) string {
	if res.Keyword != nil {
		return res.Keyword.Word
	}
	return r.PathValue("word")
}

// clientIP extracts the requester address, honoring the first
// X-Forwarded-For hop when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ─── Envelope ───────────────────────────────────────────────────────────────

type envelope struct {
	Code int    `json:"code"`
	Data any    `json:"data"`
	Msg  string `json:"msg"`
}

func (s *Server) sendData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Code: 0, Data: data, Msg: "ok"})
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Code: status, Msg: message})
}

// recover converts handler panics into the generic 500 envelope.
// Expected conditions never panic; this is the last-resort boundary.
func (s *Server) recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.Error("handler panic",
					zap.String("path", r.URL.Path), zap.Any("panic", rec))
				s.sendError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
