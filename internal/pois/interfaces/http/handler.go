package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"spikealerts/internal/audit"
	"spikealerts/internal/auth"
	"spikealerts/internal/observability/metrics"
	pois "spikealerts/internal/pois/domain"
	"spikealerts/internal/pois/interfaces"
)

const timeLayout = time.RFC3339

// ReportReader is the read surface of the report store.
type ReportReader interface {
	GetByID(ctx context.Context, reportID string) (*pois.Report, error)
	List(ctx context.Context, from, to time.Time, limit int) ([]pois.Report, error)
}

// Handler provides report HTTP endpoints.
type Handler struct {
	reports ReportReader
	auditor audit.Logger
}

// NewHandler constructs a handler. auditor may be nil.
func NewHandler(reports ReportReader, auditor audit.Logger) (*Handler, error) {
	if reports == nil {
		return nil, errors.New("reports handler: nil store")
	}
	return &Handler{reports: reports, auditor: auditor}, nil
}

// ServeHTTP handles /api/v1/reports and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch {
	case r.URL.Path == "/api/v1/reports":
		h.handleList(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/reports/"):
		h.handleGet(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type reportResponse struct {
	ReportID        string    `json:"report_id"`
	POIID           int64     `json:"poi_id"`
	POIName         string    `json:"poi_name"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int64     `json:"duration_minutes"`
	Sensitive       bool      `json:"sensitive"`
	AlertIDs        []int64   `json:"alert_ids"`
}

func toResponse(report pois.Report) reportResponse {
	return reportResponse{
		ReportID:        report.ReportID,
		POIID:           report.POIID,
		POIName:         report.POIName,
		StartTime:       report.StartTime.UTC(),
		EndTime:         report.EndTime().UTC(),
		DurationMinutes: report.DurationMinutes,
		Sensitive:       report.Sensitive,
		AlertIDs:        report.AlertIDs,
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	list, err := h.reports.List(r.Context(), from, to, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	responses := make([]reportResponse, 0, len(list))
	for _, report := range list {
		responses = append(responses, toResponse(report))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(responses)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/reports/")
	parts := strings.Split(path, "/")

	switch len(parts) {
	case 1:
		h.respondReport(w, r, parts[0])
	case 2:
		if parts[1] != "export" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.respondExport(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) respondReport(w http.ResponseWriter, r *http.Request, reportID string) {
	if err := pois.ValidateReportID(reportID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := h.reports.GetByID(r.Context(), reportID)
	if err != nil {
		if errors.Is(err, pois.ErrNotFound) {
			http.Error(w, "report not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toResponse(*report))
}

func (h *Handler) respondExport(w http.ResponseWriter, r *http.Request, reportID string) {
	if err := pois.ValidateReportID(reportID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "pdf"
	}
	if format != "pdf" && format != "xlsx" {
		http.Error(w, "format must be pdf or xlsx", http.StatusBadRequest)
		return
	}

	report, err := h.reports.GetByID(r.Context(), reportID)
	if err != nil {
		if errors.Is(err, pois.ErrNotFound) {
			http.Error(w, "report not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var payload []byte
	var contentType string
	switch format {
	case "pdf":
		payload, err = interfaces.BuildReportPDF(report)
		contentType = "application/pdf"
	case "xlsx":
		payload, err = interfaces.BuildReportXLSX(report)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		metrics.ObserveReportExport(format, metrics.ResultError)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.ObserveReportExport(format, metrics.ResultSuccess)
	if h.auditor != nil {
		_ = h.auditor.Log(r.Context(), audit.Entry{
			Actor:        auth.SubjectFromContext(r.Context()),
			Role:         string(auth.RoleFromContext(r.Context())),
			Action:       "report.export",
			ResourceType: "report",
			ResourceID:   reportID,
			Metadata:     json.RawMessage(fmt.Sprintf(`{"format":%q}`, format)),
			IP:           audit.ClientIP(r),
			UserAgent:    r.UserAgent(),
		})
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "report-"+reportID+"."+format))
	_, _ = w.Write(payload)
}

func parseTimeQuery(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%s is required", name)
	}
	parsed, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339", name)
	}
	return parsed.UTC(), nil
}
