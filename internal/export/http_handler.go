package export

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/adiwn/agreementmart/internal/domain"
)

type Handler struct {
	service *Service
}

func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodGet && strings.Contains(path, "/files/"):
		h.handleDownload(w, r, path)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/cancel"):
		h.handleCancel(w, r, path)
	case r.Method == http.MethodPost && path == "/exports":
		h.handleQueue(w, r)
	case r.Method == http.MethodGet && path == "/exports":
		h.handleListJobs(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/exports/"):
		h.handleGetJob(w, r, strings.TrimPrefix(path, "/exports/"))
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type queueExportPayload struct {
	JobType       string  `json:"jobType"`
	CustomerID    *string `json:"customerId"`
	ApplicationID *string `json:"applicationId"`
}

type jobResponse struct {
	domain.ExportJob
	DownloadURL *string `json:"downloadUrl,omitempty"`
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload queueExportPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}

	jobType := strings.ToUpper(strings.TrimSpace(payload.JobType))
	switch domain.ExportJobType(jobType) {
	case domain.ExportJobTypeCurrent:
		job, err := h.service.QueueCurrentExport(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	case domain.ExportJobTypeHistory:
		customerID := ""
		if payload.CustomerID != nil {
			customerID = *payload.CustomerID
		}
		applicationID := ""
		if payload.ApplicationID != nil {
			applicationID = *payload.ApplicationID
		}
		job, err := h.service.QueueHistoryExport(r.Context(), customerID, applicationID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	default:
		http.Error(w, fmt.Sprintf("unsupported jobType %q", payload.JobType), http.StatusBadRequest)
	}
}

func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	statuses := parseStatuses(query["status"])
	if len(statuses) == 0 {
		statuses = []domain.ExportJobStatus{
			domain.ExportJobStatusPending,
			domain.ExportJobStatusRunning,
			domain.ExportJobStatusCompleted,
			domain.ExportJobStatusFailed,
		}
	}
	limit := 20
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "offset must be zero or positive", http.StatusBadRequest)
			return
		}
		offset = parsed
	}
	jobs, err := h.service.ListJobs(r.Context(), statuses, limit, offset)
	if err != nil {
		http.Error(w, fmt.Sprintf("list jobs: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request, idSegment string) {
	jobID, err := uuid.Parse(idSegment)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid export identifier: %v", err), http.StatusBadRequest)
		return
	}
	job, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		http.Error(w, fmt.Sprintf("job not found: %v", err), http.StatusNotFound)
		return
	}
	download, err := h.service.BuildDownloadURL(job)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{ExportJob: job, DownloadURL: download})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request, path string) {
	trimmed := strings.TrimSuffix(path, "/cancel")
	idSegment := trimmed[strings.LastIndex(trimmed, "/")+1:]
	jobID, err := uuid.Parse(idSegment)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid export identifier: %v", err), http.StatusBadRequest)
		return
	}
	job, err := h.service.CancelJob(r.Context(), jobID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request, path string) {
	idx := strings.LastIndex(path, "/")
	if idx == -1 || idx == len(path)-1 {
		http.Error(w, "missing export identifier", http.StatusBadRequest)
		return
	}
	jobID, err := uuid.Parse(path[idx+1:])
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid export identifier: %v", err), http.StatusBadRequest)
		return
	}
	job, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		http.Error(w, fmt.Sprintf("job not found: %v", err), http.StatusNotFound)
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if err := h.service.ValidateDownloadToken(jobID, token); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	file, err := h.service.OpenJobFile(job)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	defer file.Close()

	filename := filepath.Base(strings.TrimSpace(*job.FilePath))
	if filename == "" {
		filename = fmt.Sprintf("export-%s.csv", jobID.String())
	}
	contentType := "application/octet-stream"
	if job.FileMimeType != nil && strings.TrimSpace(*job.FileMimeType) != "" {
		contentType = *job.FileMimeType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if job.FileByteSize != nil && *job.FileByteSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(*job.FileByteSize, 10))
	}
	http.ServeContent(w, r, filename, job.UpdatedAt, file)
}

func parseStatuses(values []string) []domain.ExportJobStatus {
	if len(values) == 0 {
		return nil
	}
	result := make([]domain.ExportJobStatus, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToUpper(strings.TrimSpace(part))
			switch domain.ExportJobStatus(trimmed) {
			case domain.ExportJobStatusPending,
				domain.ExportJobStatusRunning,
				domain.ExportJobStatusCompleted,
				domain.ExportJobStatusFailed,
				domain.ExportJobStatusCancelled:
				result = append(result, domain.ExportJobStatus(trimmed))
			}
		}
	}
	return result
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
