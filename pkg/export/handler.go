package export

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nicktill/trafficwatch/pkg/config"
	"github.com/nicktill/trafficwatch/pkg/httpx"
	"github.com/nicktill/trafficwatch/pkg/logger"
	"github.com/nicktill/trafficwatch/pkg/storage"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
	logger   *logger.Logger
	loc      *time.Location
}

// NewHandler creates a new export/import handler. Bare dates in query
// parameters are read in loc.
func NewHandler(store storage.Store, loc *time.Location, l *logger.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		exporter: NewExporter(store),
		importer: NewImporter(store),
		logger:   l,
		loc:      loc,
	}
}

// HandleExport handles GET /v1/export
// Query params:
//   - dataset: "daily" or "hourly" (default: daily)
//   - format: "json" or "csv" (default: json)
//   - start: RFC3339 or YYYY-MM-DD (default: 7 days before end)
//   - end: RFC3339 or YYYY-MM-DD (default: now)
//   - camera_id: camera filter (optional)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	opts, err := h.parseOptions(query.Get("dataset"), query.Get("format"), query.Get("start"), query.Get("end"))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	opts.CameraID = query.Get("camera_id")

	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("trafficwatch-%s-%s.%s", opts.Dataset, timestamp, opts.Format)
	if opts.Format == FormatJSON {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)

	result, err := h.exporter.Export(r.Context(), w, opts)
	if err != nil {
		h.logger.Error(err, map[string]any{"dataset": opts.Dataset, "format": opts.Format})
		// Headers may already be out; this only helps when nothing was written.
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	h.logger.Info("export completed", map[string]any{
		"dataset":    result.Dataset,
		"format":     result.Format,
		"rows":       result.RowsExported,
		"time_range": result.TimeRange,
	})
}

func (h *Handler) parseOptions(dataset, format, start, end string) (Options, error) {
	var opts Options
	var err error

	if opts.Dataset, err = ParseDataset(dataset); err != nil {
		return opts, err
	}
	if opts.Format, err = ParseFormat(format); err != nil {
		return opts, err
	}
	if opts.End, err = httpx.ParseTime("end", end, h.loc); err != nil {
		return opts, err
	}
	if opts.End.IsZero() {
		opts.End = time.Now().In(h.loc)
	}
	if opts.Start, err = httpx.ParseTime("start", start, h.loc); err != nil {
		return opts, err
	}
	if opts.Start.IsZero() {
		opts.Start = opts.End.Add(-config.DefaultExportWindow)
	}

	if !opts.Start.Before(opts.End) {
		return opts, fmt.Errorf("%w: start must be before end", httpx.ErrBadParam)
	}
	if opts.End.Sub(opts.Start) > config.MaxExportWindow {
		return opts, fmt.Errorf("%w: time range too large, maximum is %v", httpx.ErrBadParam, config.MaxExportWindow)
	}
	return opts, nil
}

// HandleImport handles POST /v1/import
// Accepts JSON backups produced by HandleExport.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		httpx.RespondErrorString(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	result, err := h.importer.ImportFromJSON(r.Context(), r.Body)
	if err != nil {
		h.logger.Error(err, map[string]any{"operation": "import"})
		status := http.StatusInternalServerError
		var storageErr *traffic.StorageError
		if !errors.As(err, &storageErr) {
			status = http.StatusBadRequest
		}
		httpx.RespondError(w, status, err)
		return
	}

	if result.RowsInvalid > 0 {
		h.logger.Warning("import completed with validation errors", map[string]any{
			"invalid": result.RowsInvalid,
			"first":   result.Errors[0],
		})
	}
	h.logger.Info("import completed", map[string]any{
		"dataset":  result.Dataset,
		"imported": result.RowsImported,
		"skipped":  result.RowsSkipped,
		"batches":  result.BatchesWritten,
	})

	httpx.RespondJSON(w, http.StatusOK, result)
}
