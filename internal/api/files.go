package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/clipstash/clipstash/internal/auth"
	"github.com/clipstash/clipstash/internal/logging"
	"github.com/clipstash/clipstash/internal/metrics"
	"github.com/clipstash/clipstash/internal/model"
	"github.com/clipstash/clipstash/internal/storage"
)

// ─── Listing ────────────────────────────────────────────────────────────────

type fileListResponse struct {
	Files     []storage.FileInfo `json:"files"`
	TotalSize int64              `json:"total_size"`
}

func (s *Server) handleFileList(w http.ResponseWriter, r *http.Request) {
	res, ok := s.authorize(w, r)
	if !ok {
		return
	}
	if res.Creating {
		s.sendData(w, http.StatusOK, fileListResponse{Files: []storage.FileInfo{}})
		return
	}

	files, err := s.backend.List(r.Context(), storage.FilePrefix(res.Keyword.Word))
	if err != nil {
		logging.Error("list files", zap.String("word", res.Keyword.Word), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to list files")
		return
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}
	s.sendData(w, http.StatusOK, fileListResponse{Files: files, TotalSize: total})
}

// ─── Download ───────────────────────────────────────────────────────────────

func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	name := storage.DecodeName(r.URL.Query().Get("name"))
	if name == "" {
		s.sendError(w, http.StatusBadRequest, "file name required")
		return
	}

	kw, ok := s.authorizeDownload(w, r)
	if !ok {
		return
	}
	prefix := storage.FilePrefix(kw.Word)

	rng, unsatisfiable, err := s.resolveRange(r, prefix, name)
	if err != nil {
		s.sendError(w, http.StatusNotFound, "file not found")
		return
	}
	if unsatisfiable != nil {
		w.Header().Set("Content-Range", *unsatisfiable)
		s.sendError(w, http.StatusRequestedRangeNotSatisfiable, "range not satisfiable")
		return
	}

	dl, err := s.backend.Download(r.Context(), prefix, name, rng)
	if err != nil {
		logging.Error("download file",
			zap.String("word", kw.Word), zap.String("name", name), zap.Error(err))
		metrics.RecordDownload(0, false)
		s.sendError(w, http.StatusInternalServerError, "failed to download file")
		return
	}

	switch dl.Status {
	case storage.StatusNotFound:
		s.sendError(w, http.StatusNotFound, "file not found")
		return
	case storage.StatusRangeInvalid:
		w.Header().Set("Content-Range", dl.ContentRange)
		s.sendError(w, http.StatusRequestedRangeNotSatisfiable, "range not satisfiable")
		return
	}
	defer dl.Body.Close()

	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(dl.ContentLength, 10))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename*=UTF-8''%s`, url.PathEscape(name)))
	if dl.ETag != "" {
		w.Header().Set("ETag", `"`+dl.ETag+`"`)
	}
	if dl.Status == storage.StatusPartialContent {
		w.Header().Set("Content-Range", dl.ContentRange)
	}
	w.WriteHeader(dl.Status)

	n, err := io.Copy(w, dl.Body)
	if err != nil {
		logging.Warn("file transfer error",
			zap.String("word", kw.Word), zap.String("name", name), zap.Error(err))
	}
	metrics.RecordDownload(n, err == nil)
}

// authorizeDownload admits either a valid delegated token or the
// regular gate. Tokens let download tools fetch without cookie state.
func (s *Server) authorizeDownload(w http.ResponseWriter, r *http.Request) (*model.Keyword, bool) {
	token := r.URL.Query().Get("token")
	if token != "" {
		kw, err := s.resolveKeyword(r.Context(), r)
		if err != nil {
			s.sendError(w, http.StatusInternalServerError, "internal error")
			return nil, false
		}
		if kw == nil {
			s.sendError(w, http.StatusNotFound, "content not found")
			return nil, false
		}
		valid, err := s.sessions.Validate(r.Context(), token, kw.Word, kw.ViewWord, clientIP(r))
		if err != nil {
			s.sendError(w, http.StatusInternalServerError, "internal error")
			return nil, false
		}
		if !valid {
			metrics.RecordAuthAttempt(false)
			s.sendError(w, http.StatusUnauthorized, "invalid or expired token")
			return nil, false
		}
		return kw, true
	}

	res, ok := s.authorize(w, r)
	if !ok {
		return nil, false
	}
	if res.Creating {
		s.sendError(w, http.StatusNotFound, "file not found")
		return nil, false
	}
	return res.Keyword, true
}

// resolveRange turns the Range header into a byte range for the
// backend. The second return carries a ready Content-Range value when
// the request is unsatisfiable.
func (s *Server) resolveRange(r *http.Request, prefix, name string) (*storage.ByteRange, *string, error) {
	header := r.Header.Get("Range")
	if header == "" {
		return nil, nil, nil
	}

	total, err := s.objectSize(r, prefix, name)
	if err != nil {
		return nil, nil, err
	}

	rng, ok := storage.ParseRange(header, total)
	if !ok {
		cr := fmt.Sprintf("bytes */%d", total)
		return nil, &cr, nil
	}
	if rng.Start == 0 && rng.End == total-1 {
		// Full-file range, including the lenient fallback for malformed
		// headers; serve it as a plain 200.
		return nil, nil, nil
	}
	return &rng, nil, nil
}

func (s *Server) objectSize(r *http.Request, prefix, name string) (int64, error) {
	files, err := s.backend.List(r.Context(), prefix)
	if err != nil {
		return 0, err
	}
	for _, f := range files {
		if f.Name == name {
			return f.Size, nil
		}
	}
	return 0, fmt.Errorf("object %s/%s not found", prefix, name)
}

// ─── Delegated token ────────────────────────────────────────────────────────

func (s *Server) handleFileToken(w http.ResponseWriter, r *http.Request) {
	res, ok := s.authorize(w, r)
	if !ok {
		return
	}
	if res.Creating {
		s.sendError(w, http.StatusNotFound, "keyword not found")
		return
	}
	kw := res.Keyword

	tok, err := s.sessions.Issue(r.Context(), kw.Word, kw.ViewWord, clientIP(r))
	if err != nil {
		logging.Error("issue session token", zap.String("word", kw.Word), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	s.sendData(w, http.StatusOK, tok)
}

// ─── Upload ─────────────────────────────────────────────────────────────────

type fileUploadResponse struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	ETag string `json:"etag"`
}

func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	res, ok := s.authorize(w, r)
	if !ok {
		return
	}

	name := storage.DecodeName(r.PathValue("name"))
	size := r.ContentLength
	if status, msg := s.checkUploadLimits(r, res, name, size); status != 0 {
		s.sendError(w, status, msg)
		return
	}

	kw, status, msg := s.ensureKeyword(r, res)
	if status != 0 {
		s.sendError(w, status, msg)
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize)
	result, err := s.backend.Upload(r.Context(), storage.FilePrefix(kw.Word), name, size, body)
	if err != nil {
		logging.Error("upload file",
			zap.String("word", kw.Word), zap.String("name", name), zap.Error(err))
		metrics.RecordUpload(0, false)
		s.sendError(w, http.StatusInternalServerError, "failed to upload file")
		return
	}
	metrics.RecordUpload(size, true)

	s.sendData(w, http.StatusCreated, fileUploadResponse{
		Name: name,
		Size: size,
		ETag: result.ETag,
	})
}

// checkUploadLimits enforces the per-file size, file count and total
// namespace size caps before any bytes are accepted.
func (s *Server) checkUploadLimits(r *http.Request, res *auth.Result, name string, size int64) (int, string) {
	if name == "" {
		return http.StatusBadRequest, "file name required"
	}
	if size <= 0 {
		return http.StatusBadRequest, "Content-Length required"
	}
	if size > s.cfg.MaxFileSize {
		return http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds maximum size of %d bytes", s.cfg.MaxFileSize)
	}
	if res.Creating {
		return 0, ""
	}

	files, err := s.backend.List(r.Context(), storage.FilePrefix(res.Keyword.Word))
	if err != nil {
		logging.Error("list files for limits",
			zap.String("word", res.Keyword.Word), zap.Error(err))
		return http.StatusInternalServerError, "failed to check limits"
	}

	var total int64
	count := 0
	for _, f := range files {
		if f.Name == name {
			// Overwrite replaces the old bytes.
			continue
		}
		total += f.Size
		count++
	}
	if count >= s.cfg.MaxFileCount {
		return http.StatusRequestEntityTooLarge,
			fmt.Sprintf("namespace holds the maximum of %d files", s.cfg.MaxFileCount)
	}
	if total+size > s.cfg.MaxTotalSize {
		return http.StatusRequestEntityTooLarge,
			fmt.Sprintf("namespace exceeds total size of %d bytes", s.cfg.MaxTotalSize)
	}
	return 0, ""
}

// ─── Delete ─────────────────────────────────────────────────────────────────

func (s *Server) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	res, ok := s.authorize(w, r)
	if !ok {
		return
	}
	name := storage.DecodeName(r.URL.Query().Get("name"))
	if name == "" {
		s.sendError(w, http.StatusBadRequest, "file name required")
		return
	}
	if res.Creating {
		// Nothing stored yet; deleting is a no-op, like the adapter's.
		s.sendData(w, http.StatusOK, map[string]string{"deleted": name})
		return
	}

	if err := s.backend.Delete(r.Context(), storage.FilePrefix(res.Keyword.Word), name); err != nil {
		logging.Error("delete file",
			zap.String("word", res.Keyword.Word), zap.String("name", name), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to delete file")
		return
	}
	s.sendData(w, http.StatusOK, map[string]string{"deleted": name})
}

func (s *Server) handleFileDeleteAll(w http.ResponseWriter, r *http.Request) {
	res, ok := s.authorize(w, r)
	if !ok {
		return
	}
	if res.Creating {
		s.sendData(w, http.StatusOK, map[string]int{"deleted_count": 0})
		return
	}

	count, err := s.backend.DeleteFolder(r.Context(), storage.FilePrefix(res.Keyword.Word))
	if err != nil {
		logging.Error("delete all files",
			zap.String("word", res.Keyword.Word), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to delete files")
		return
	}
	s.sendData(w, http.StatusOK, map[string]int{"deleted_count": count})
}
