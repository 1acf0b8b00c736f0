package refresh

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/adiwn/agreementmart/internal/domain"
	"github.com/adiwn/agreementmart/internal/repository"
	"github.com/adiwn/agreementmart/internal/snapshot"

	"github.com/google/uuid"
)

// Handler exposes run control and the consumer read surface over HTTP.
type Handler struct {
	service  *Service
	versions repository.AgreementVersionRepository
	runs     repository.JobRunRepository
	quality  repository.DataQualityRepository
}

func NewHTTPHandler(
	service *Service,
	versions repository.AgreementVersionRepository,
	runs repository.JobRunRepository,
	quality repository.DataQualityRepository,
) http.Handler {
	return &Handler{service: service, versions: versions, runs: runs, quality: quality}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodPost && path == "/runs":
		h.handleTrigger(w, r)
	case r.Method == http.MethodGet && path == "/runs":
		h.handleListRuns(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/runs/"):
		h.handleGetRun(w, r, strings.TrimPrefix(path, "/runs/"))
	case r.Method == http.MethodPost && path == "/snapshot/upload":
		h.handleUpload(w, r)
	case r.Method == http.MethodGet && path == "/agreements/current":
		h.handleCurrent(w, r)
	case r.Method == http.MethodGet && path == "/agreements/history":
		h.handleHistory(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.Trigger(r.Context())
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePage(r, 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	runs, err := h.runs.List(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, fmt.Sprintf("list runs: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request, idSegment string) {
	runID, err := uuid.Parse(idSegment)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid run id: %v", err), http.StatusBadRequest)
		return
	}
	run, err := h.runs.GetByID(r.Context(), runID)
	if err != nil {
		http.Error(w, fmt.Sprintf("run not found: %v", err), http.StatusNotFound)
		return
	}
	entries, err := h.quality.List(r.Context(), runID, 200, 0)
	if err != nil {
		http.Error(w, fmt.Sprintf("list data quality entries: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":         run,
		"dataQuality": entries,
	})
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return
	}

	assembler := snapshot.NewFileAssembler(header.Filename, bytes.NewReader(data))
	summary, err := h.service.RunWith(r.Context(), assembler)
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePage(r, 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	versions, totalCount, err := h.versions.ListCurrentPage(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, fmt.Sprintf("list current agreements: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rows":       versions,
		"totalCount": totalCount,
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	customerID := strings.TrimSpace(query.Get("customerId"))
	applicationID := strings.TrimSpace(query.Get("applicationId"))
	if customerID == "" || applicationID == "" {
		http.Error(w, "customerId and applicationId are required", http.StatusBadRequest)
		return
	}

	versions, err := h.versions.ListHistory(r.Context(), customerID, applicationID)
	if err != nil {
		http.Error(w, fmt.Sprintf("list history: %v", err), http.StatusInternalServerError)
		return
	}

	response := map[string]any{"versions": versions}

	baseRaw := strings.TrimSpace(query.Get("base"))
	targetRaw := strings.TrimSpace(query.Get("target"))
	if baseRaw != "" || targetRaw != "" {
		base, err := findVersion(versions, baseRaw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		target, err := findVersion(versions, targetRaw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		response["diff"] = domain.DiffVersions(label(base), base, label(target), target)
	}

	writeJSON(w, http.StatusOK, response)
}

// findVersion resolves a version id within the already-loaded history so the
// diff can never cross business keys.
func findVersion(versions []domain.AgreementVersion, raw string) (*domain.AgreementVersion, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid version id %q: %v", raw, err)
	}
	for i := range versions {
		if versions[i].ID == id {
			return &versions[i], nil
		}
	}
	return nil, fmt.Errorf("version %s not found in this agreement's history", id)
}

func label(v *domain.AgreementVersion) string {
	if v == nil {
		return "none"
	}
	return v.ID.String()
}

func parsePage(r *http.Request, defaultLimit int) (int, int, error) {
	query := r.URL.Query()
	limit := defaultLimit
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return 0, 0, errors.New("offset must be zero or positive")
		}
		offset = parsed
	}
	return limit, offset, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
