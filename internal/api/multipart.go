package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/clipstash/clipstash/internal/logging"
	"github.com/clipstash/clipstash/internal/metrics"
	"github.com/clipstash/clipstash/internal/storage"
)

// ─── Init ───────────────────────────────────────────────────────────────────

type multipartInitRequest struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type multipartInitResponse struct {
	UploadID       string `json:"upload_id"`
	ChunkSize      int64  `json:"chunk_size"`
	ChunkCount     int    `json:"chunk_count"`
	MaxConcurrent  int    `json:"max_concurrent"`
	ChunkThreshold int64  `json:"chunk_threshold"`
}

func (s *Server) handleMultipartInit(w http.ResponseWriter, r *http.Request) {
	res, ok := s.authorize(w, r)
	if !ok {
		return
	}

	var req multipartInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = storage.DecodeName(req.Name)
	if status, msg := s.checkUploadLimits(r, res, req.Name, req.Size); status != 0 {
		s.sendError(w, status, msg)
		return
	}

	kw, status, msg := s.ensureKeyword(r, res)
	if status != 0 {
		s.sendError(w, status, msg)
		return
	}

	uploadID, err := s.backend.CreateMultipartUpload(r.Context(), storage.FilePrefix(kw.Word), req.Name)
	if err != nil {
		logging.Error("init multipart upload",
			zap.String("word", kw.Word), zap.String("name", req.Name), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to start upload")
		return
	}

	chunkCount := int((req.Size + s.cfg.ChunkSize - 1) / s.cfg.ChunkSize)
	logging.Info("multipart upload started",
		zap.String("word", kw.Word),
		zap.String("name", req.Name),
		zap.Int64("size", req.Size),
		zap.Int("chunks", chunkCount))

	s.sendData(w, http.StatusCreated, multipartInitResponse{
		UploadID:       uploadID,
		ChunkSize:      s.cfg.ChunkSize,
		ChunkCount:     chunkCount,
		MaxConcurrent:  s.cfg.MaxConcurrentParts,
		ChunkThreshold: s.cfg.ChunkThreshold,
	})
}

// ─── Chunk ──────────────────────────────────────────────────────────────────

type multipartChunkResponse struct {
	Part int    `json:"part"`
	ETag string `json:"etag"`
}

func (s *Server) handleMultipartChunk(w http.ResponseWriter, r *http.Request) {
	res, ok := s.authorize(w, r)
	if !ok {
		return
	}
	if res.Creating {
		s.sendError(w, http.StatusNotFound, "upload not found")
		return
	}
	word := res.Keyword.Word

	uploadID := r.PathValue("uploadId")
	part, err := strconv.Atoi(r.PathValue("part"))
	if err != nil || part < 1 {
		s.sendError(w, http.StatusBadRequest, "invalid part number")
		return
	}
	name := storage.DecodeName(r.URL.Query().Get("name"))
	if name == "" {
		s.sendError(w, http.StatusBadRequest, "file name required")
		return
	}
	size := r.ContentLength
	if size <= 0 || size > s.cfg.ChunkSize {
		s.sendError(w, http.StatusBadRequest,
			fmt.Sprintf("chunk size must be between 1 and %d bytes", s.cfg.ChunkSize))
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.cfg.ChunkSize)
	etag, err := s.backend.UploadPart(r.Context(), storage.FilePrefix(word), name, uploadID, part, size, body)
	if err != nil {
		metrics.RecordUpload(0, false)
		s.sendMultipartError(w, word, uploadID, "upload chunk", err)
		return
	}
	metrics.RecordUpload(size, true)

	s.sendData(w, http.StatusOK, multipartChunkResponse{Part: part, ETag: etag})
}

// ─── Complete ───────────────────────────────────────────────────────────────

type multipartCompleteRequest struct {
	Name  string         `json:"name"`
	Parts []storage.Part `json:"parts"`
}

func (s *Server) handleMultipartComplete(w http.ResponseWriter, r *http.Request) {
	res, ok := s.authorize(w, r)
	if !ok {
		return
	}
	if res.Creating {
		s.sendError(w, http.StatusNotFound, "upload not found")
		return
	}
	word := res.Keyword.Word
	uploadID := r.PathValue("uploadId")

	var req multipartCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = storage.DecodeName(req.Name)
	if req.Name == "" || len(req.Parts) == 0 {
		s.sendError(w, http.StatusBadRequest, "name and parts are required")
		return
	}

	result, err := s.backend.CompleteMultipartUpload(r.Context(), storage.FilePrefix(word), req.Name, uploadID, req.Parts)
	if err != nil {
		s.sendMultipartError(w, word, uploadID, "complete upload", err)
		return
	}

	logging.Info("multipart upload completed",
		zap.String("word", word),
		zap.String("name", req.Name),
		zap.Int("parts", len(req.Parts)))

	s.sendData(w, http.StatusCreated, fileUploadResponse{
		Name: req.Name,
		ETag: result.ETag,
	})
}

// ─── Cancel ─────────────────────────────────────────────────────────────────

type multipartCancelRequest struct {
	UploadID string `json:"upload_id"`
	Name     string `json:"name"`
}

func (s *Server) handleMultipartCancel(w http.ResponseWriter, r *http.Request) {
	res, ok := s.authorize(w, r)
	if !ok {
		return
	}
	if res.Creating {
		s.sendError(w, http.StatusNotFound, "upload not found")
		return
	}
	word := res.Keyword.Word

	var req multipartCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = storage.DecodeName(req.Name)
	if req.UploadID == "" {
		s.sendError(w, http.StatusBadRequest, "upload_id required")
		return
	}

	err := s.backend.AbortMultipartUpload(r.Context(), storage.FilePrefix(word), req.Name, req.UploadID)
	if err != nil {
		s.sendMultipartError(w, word, req.UploadID, "cancel upload", err)
		return
	}

	logging.Info("multipart upload cancelled",
		zap.String("word", word), zap.String("upload_id", req.UploadID))
	s.sendData(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// sendMultipartError maps the adapter's sentinel errors onto the
// envelope; everything else is a generic 500.
func (s *Server) sendMultipartError(w http.ResponseWriter, word, uploadID, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrUploadNotFound):
		s.sendError(w, http.StatusNotFound, "upload not found")
	case errors.Is(err, storage.ErrPartsNotContiguous):
		s.sendError(w, http.StatusBadRequest, "part numbers must be contiguous starting at 1")
	case errors.Is(err, storage.ErrInvalidData):
		s.sendError(w, http.StatusBadRequest, "chunk data required")
	default:
		logging.Error(op,
			zap.String("word", word), zap.String("upload_id", uploadID), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "upload failed")
	}
}
