package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/doc-analyzer/internal/api/middleware"
	bq "github.com/dvloznov/doc-analyzer/internal/bigquery"
	"github.com/dvloznov/doc-analyzer/internal/datauri"
	"github.com/dvloznov/doc-analyzer/internal/gcsuploader"
	"github.com/dvloznov/doc-analyzer/internal/ingest"
	"github.com/dvloznov/doc-analyzer/internal/jobs"
	"github.com/dvloznov/doc-analyzer/internal/pipeline"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MaxDocumentBytes bounds request bodies that carry a document.
const MaxDocumentBytes = 32 << 20

const defaultListLimit = 50

// AnalysisService is the part of ingest.Service the HTTP surface uses.
type AnalysisService interface {
	AnalyzeDataURI(ctx context.Context, userID, fileName, uri string) (*ingest.Result, error)
	Get(ctx context.Context, analysisID string) (*ingest.Result, error)
	List(ctx context.Context, userID string, limit int) ([]*bq.AnalysisRow, error)
	Delete(ctx context.Context, analysisID string) error
}

// Uploader stores uploaded documents.
type Uploader interface {
	Upload(ctx context.Context, bucketName, objectName, contentType string, r io.Reader) error
}

// StatusFromError maps service errors to HTTP status codes.
func StatusFromError(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ingest.ErrInvalidSource), errors.Is(err, datauri.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, bq.ErrAnalysisNotFound), errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs err and writes its mapped status. Server errors hide their detail.
func writeServiceError(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	status := StatusFromError(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, status, msg)
		return
	}
	log.Warn().Err(err).Int("status", status).Msg(msg)
	middleware.WriteError(w, status, err.Error())
}

// AnalysisResponse is the JSON shape of a stored analysis.
type AnalysisResponse struct {
	AnalysisID string                   `json:"analysis_id"`
	Analysis   *pipeline.AnalysisResult `json:"analysis"`
	Record     *bq.AnalysisRow          `json:"record"`
	Duplicate  bool                     `json:"duplicate"`
}

func newAnalysisResponse(res *ingest.Result) AnalysisResponse {
	return AnalysisResponse{
		AnalysisID: res.Analysis.AnalysisID,
		Analysis:   res.Result,
		Record:     res.Analysis,
		Duplicate:  res.Duplicate,
	}
}

// AnalysesHandler handles analysis endpoints.
type AnalysesHandler struct {
	svc AnalysisService
	log zerolog.Logger
}

// NewAnalysesHandler creates a new analyses handler.
func NewAnalysesHandler(svc AnalysisService, log zerolog.Logger) *AnalysesHandler {
	return &AnalysesHandler{svc: svc, log: log}
}

// CreateAnalysis handles POST /api/analyses
func (h *AnalysesHandler) CreateAnalysis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileName string `json:"file_name"`
		DataURI  string `json:"data_uri"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxDocumentBytes*2)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.DataURI == "" {
		middleware.WriteError(w, http.StatusBadRequest, "data_uri is required")
		return
	}

	ctx := r.Context()
	userID := middleware.UserIDFromContext(ctx)

	fileName := req.FileName
	if fileName != "" {
		fileName = filepath.Base(fileName)
	}

	res, err := h.svc.AnalyzeDataURI(ctx, userID, fileName, req.DataURI)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to analyze document")
		return
	}

	h.log.Info().
		Str("analysis_id", res.Analysis.AnalysisID).
		Str("user_id", userID).
		Bool("duplicate", res.Duplicate).
		Msg("Document analyzed")

	middleware.WriteJSON(w, http.StatusOK, newAnalysisResponse(res))
}

// ListAnalyses handles GET /api/analyses
func (h *AnalysesHandler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := parseLimit(r, defaultListLimit)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.svc.List(ctx, middleware.UserIDFromContext(ctx), limit)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list analyses")
		return
	}
	if rows == nil {
		rows = []*bq.AnalysisRow{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"analyses": rows,
		"count":    len(rows),
	})
}

// GetAnalysis handles GET /api/analyses/{id}
func (h *AnalysesHandler) GetAnalysis(w http.ResponseWriter, r *http.Request, analysisID string) {
	res, ok := h.ownedAnalysis(w, r, analysisID)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, newAnalysisResponse(res))
}

// DeleteAnalysis handles DELETE /api/analyses/{id}
func (h *AnalysesHandler) DeleteAnalysis(w http.ResponseWriter, r *http.Request, analysisID string) {
	if _, ok := h.ownedAnalysis(w, r, analysisID); !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), analysisID); err != nil {
		writeServiceError(w, h.log, err, "Failed to delete analysis")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedAnalysis loads an analysis and hides analyses of other users behind a 404.
func (h *AnalysesHandler) ownedAnalysis(w http.ResponseWriter, r *http.Request, analysisID string) (*ingest.Result, bool) {
	ctx := r.Context()
	res, err := h.svc.Get(ctx, analysisID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get analysis")
		return nil, false
	}
	if res.Analysis.UserID != middleware.UserIDFromContext(ctx) {
		middleware.WriteError(w, http.StatusNotFound, "Analysis not found")
		return nil, false
	}
	return res, true
}

// DocumentsHandler handles document upload and asynchronous analysis endpoints.
type DocumentsHandler struct {
	uploader  Uploader
	publisher jobs.Publisher
	bucket    string
	log       zerolog.Logger
}

// NewDocumentsHandler creates a new documents handler. uploader may be nil
// when no bucket is configured; uploads then answer 503.
func NewDocumentsHandler(uploader Uploader, publisher jobs.Publisher, bucket string, log zerolog.Logger) *DocumentsHandler {
	return &DocumentsHandler{
		uploader:  uploader,
		publisher: publisher,
		bucket:    bucket,
		log:       log,
	}
}

// UploadDocument handles POST /api/documents/upload?filename=
// The request body is the raw document.
func (h *DocumentsHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	if h.uploader == nil || h.bucket == "" {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Document uploads are disabled")
		return
	}

	ctx := r.Context()

	filename := filepath.Base(r.URL.Query().Get("filename"))
	if filename == "" || filename == "." || filename == "/" {
		middleware.WriteError(w, http.StatusBadRequest, "filename is required")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" || pipeline.NormalizeMIMEType(contentType) == "application/octet-stream" {
		contentType = pipeline.MIMETypeFromFileName(filename)
	}
	if !pipeline.IsSupportedMIMEType(contentType) {
		middleware.WriteError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("Unsupported document type %q", contentType))
		return
	}
	contentType = pipeline.NormalizeMIMEType(contentType)

	objectName := fmt.Sprintf("uploads/%s/%s", time.Now().UTC().Format("2006/01/02"), uuid.New().String()+"-"+filename)
	gcsURI := gcsuploader.FormatGCSURI(h.bucket, objectName)

	body := http.MaxBytesReader(w, r.Body, MaxDocumentBytes)
	if err := h.uploader.Upload(ctx, h.bucket, objectName, contentType, body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Document too large")
			return
		}
		h.log.Error().Err(err).Str("gcs_uri", gcsURI).Msg("Failed to upload document")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to upload file")
		return
	}

	job := &jobs.AnalyzeDocumentJob{
		UserID:   middleware.UserIDFromContext(ctx),
		GCSURI:   gcsURI,
		MIMEType: contentType,
	}
	if err := h.publisher.PublishAnalyzeDocument(ctx, job); err != nil {
		h.log.Error().Err(err).Str("gcs_uri", gcsURI).Msg("Failed to enqueue analysis job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue analysis job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("gcs_uri", gcsURI).Msg("Document uploaded and analysis enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  job.JobID,
		"gcs_uri": gcsURI,
		"status":  string(job.Status),
	})
}

// EnqueueAnalysis handles POST /api/analyses/jobs
func (h *DocumentsHandler) EnqueueAnalysis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GCSURI   string `json:"gcs_uri"`
		MIMEType string `json:"mime_type"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, _, err := gcsuploader.ParseGCSURI(req.GCSURI); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()

	job := &jobs.AnalyzeDocumentJob{
		UserID:   middleware.UserIDFromContext(ctx),
		GCSURI:   req.GCSURI,
		MIMEType: req.MIMEType,
	}

	if err := h.publisher.PublishAnalyzeDocument(ctx, job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue analysis job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue analysis job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("gcs_uri", req.GCSURI).Msg("Analysis job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  job.JobID,
		"gcs_uri": req.GCSURI,
		"status":  string(job.Status),
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get job")
		return
	}
	if job.UserID != middleware.UserIDFromContext(ctx) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		UserID: middleware.UserIDFromContext(ctx),
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobsList == nil {
		jobsList = []*jobs.AnalyzeDocumentJob{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

func parseLimit(r *http.Request, def int) (int, error) {
	s := strings.TrimSpace(r.URL.Query().Get("limit"))
	if s == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(s)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > 500 {
		limit = 500
	}
	return limit, nil
}
