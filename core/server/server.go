package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Verein-Kleinwohnformen/energiemonitor-api/internal/batch"
	"github.com/Verein-Kleinwohnformen/energiemonitor-api/internal/broker"
	"github.com/Verein-Kleinwohnformen/energiemonitor-api/internal/domain"
	"github.com/Verein-Kleinwohnformen/energiemonitor-api/internal/export"
	"github.com/Verein-Kleinwohnformen/energiemonitor-api/internal/meta"
)

const (
	deviceKeyHeader = "KWF-Device-Key"
	dateLayout      = "2006-01-02"
	maxErrorDetails = 10
)

// workbookExporter writes per-sensor rows as an XLSX workbook.
type workbookExporter interface {
	Export(w io.Writer, perSensor map[string][]export.Row) error
}

type Server struct {
	config      *ServerConfig
	router      *gin.Engine
	aggregator  *batch.Aggregator
	reassembler *export.Reassembler
	exporter    workbookExporter
	metrics     *Metrics
	registry    *prometheus.Registry
	log         *zap.Logger
}

func NewServer(options ...ConfigOption) (*Server, error) {
	config := &ServerConfig{
		Port:               "8080",
		BatchCapacity:      2000,
		MaxExportRangeDays: 31,
		CommitConcurrency:  4,
	}

	for _, option := range options {
		if err := option(config); err != nil {
			return nil, err
		}
	}

	if config.BatchStore == nil || config.MetadataStore == nil {
		return nil, errors.New("a batch store and a metadata store are required")
	}
	if config.Authenticator == nil {
		return nil, errors.New("an authenticator is required")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Publisher == nil {
		config.Publisher = broker.NewLogPublisher(config.Logger.Named("broker"))
	}

	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	consolidator := &instrumentedConsolidator{
		inner:   meta.NewConsolidator(config.MetadataStore, config.Logger.Named("meta")),
		metrics: metrics,
	}

	aggregator, err := batch.NewAggregator(
		config.BatchStore,
		consolidator,
		config.BatchCapacity,
		config.CommitConcurrency,
		config.Logger.Named("batch"),
	)
	if err != nil {
		return nil, err
	}

	server := &Server{
		config:      config,
		router:      gin.Default(),
		aggregator:  aggregator,
		reassembler: export.NewReassembler(config.BatchStore, config.Logger.Named("export")),
		exporter:    export.NewExporter(config.Logger.Named("export")),
		metrics:     metrics,
		registry:    registry,
		log:         config.Logger,
	}

	server.setupRoutes()
	return server, nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	api := s.router.Group("/api/v1")
	api.Use(s.requireDeviceKey)
	{
		api.POST("/telemetry", s.handleTelemetry)
		api.GET("/export", s.handleExport)
		api.GET("/sensors", s.handleSensors)
	}
}

// requireDeviceKey resolves the KWF-Device-Key header to a device ID and
// stores it in the request context.
func (s *Server) requireDeviceKey(c *gin.Context) {
	key := c.GetHeader(deviceKeyHeader)
	if key == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "Missing authentication",
			"message": deviceKeyHeader + " header is required",
		})
		return
	}

	deviceID, err := s.config.Authenticator.Authenticate(c.Request.Context(), key)
	if errors.Is(err, domain.ErrUnauthorized) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "Invalid authentication",
			"message": "Invalid device key",
		})
		return
	}
	if err != nil {
		s.log.Error("authentication backend failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "authentication unavailable"})
		return
	}

	c.Set("device_id", deviceID)
	c.Next()
}

// handleTelemetry accepts a single reading or an array of readings,
// validates them, and commits the valid ones as batch documents before
// responding. Nothing is buffered across requests.
func (s *Server) handleTelemetry(c *gin.Context) {
	deviceID := c.GetString("device_id")
	start := time.Now()

	raw, err := c.GetRawData()
	if err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No data provided"})
		return
	}

	readings, err := decodeReadings(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	if len(readings) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No data provided"})
		return
	}

	valid, validationErrors := s.validateReadings(readings)
	s.metrics.readingsRejected.Add(float64(len(readings) - len(valid)))

	if len(valid) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":        "Failed to store data",
			"device_id":    deviceID,
			"failed_count": len(validationErrors),
			"errors":       truncate(validationErrors),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	result, err := s.aggregator.Ingest(ctx, deviceID, valid)
	s.metrics.ingestDuration.Observe(time.Since(start).Seconds())
	if result != nil {
		s.metrics.documentsWritten.Add(float64(result.Documents))
	}

	var partial *domain.PartialCommitError
	if errors.As(err, &partial) {
		s.log.Error("ingestion partially committed",
			zap.String("device_id", deviceID),
			zap.Int("failed_groups", len(partial.FailedGroups)),
			zap.Error(partial.Err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":         "Failed to persist data",
			"device_id":     deviceID,
			"failed_groups": partial.FailedGroups,
			"message":       "some batch groups were not committed; retrying the request may duplicate committed groups",
		})
		return
	}
	if err != nil {
		s.log.Error("ingestion failed", zap.String("device_id", deviceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist data"})
		return
	}

	s.metrics.readingsAccepted.Add(float64(result.Accepted))
	s.publishIngestEvent(deviceID, result)

	s.log.Info("telemetry stored",
		zap.String("device_id", deviceID),
		zap.Int("accepted", result.Accepted),
		zap.Int("documents", result.Documents),
		zap.Duration("duration", time.Since(start)))

	if len(validationErrors) > 0 {
		c.JSON(http.StatusMultiStatus, gin.H{
			"message":      "Partial success",
			"device_id":    deviceID,
			"stored_count": result.Accepted,
			"failed_count": len(validationErrors),
			"errors":       truncate(validationErrors),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":      "All data stored successfully",
		"device_id":    deviceID,
		"stored_count": result.Accepted,
	})
}

// handleExport returns an XLSX workbook for the requested date range. The
// range cap is enforced before any store read happens.
func (s *Server) handleExport(c *gin.Context) {
	deviceID := c.GetString("device_id")

	startStr := c.Query("start_date")
	endStr := c.Query("end_date")
	if startStr == "" || endStr == "" {
		s.metrics.exportRequests.WithLabelValues("bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required parameters: start_date and end_date"})
		return
	}

	start, err := parseExportDate(startStr, false)
	if err != nil {
		s.metrics.exportRequests.WithLabelValues("bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	end, err := parseExportDate(endStr, true)
	if err != nil {
		s.metrics.exportRequests.WithLabelValues("bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if end.Before(start) {
		s.metrics.exportRequests.WithLabelValues("bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date range: end_date must be after start_date"})
		return
	}

	days := int(end.Sub(start).Hours() / 24)
	if days > s.config.MaxExportRangeDays {
		s.metrics.exportRequests.WithLabelValues("range_too_large").Inc()
		rangeErr := &domain.RangeTooLargeError{RequestedDays: days, MaxDays: s.config.MaxExportRangeDays}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":          rangeErr.Error(),
			"requested_days": rangeErr.RequestedDays,
			"max_days":       rangeErr.MaxDays,
			"message":        fmt.Sprintf("Please limit your export to %d days or less", rangeErr.MaxDays),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	perSensor, err := s.reassembler.ReadRange(ctx, deviceID, start, end)
	if err != nil {
		s.metrics.exportRequests.WithLabelValues("error").Inc()
		s.log.Error("export read failed", zap.String("device_id", deviceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read telemetry data"})
		return
	}
	if len(perSensor) == 0 {
		s.metrics.exportRequests.WithLabelValues("empty").Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": "No data found for the specified period"})
		return
	}

	rows := 0
	for _, sensorRows := range perSensor {
		rows += len(sensorRows)
	}

	// Assemble the workbook before touching the response so a failure can
	// still produce an error status. The range cap bounds its size.
	var workbook bytes.Buffer
	if err := s.exporter.Export(&workbook, perSensor); err != nil {
		s.metrics.exportRequests.WithLabelValues("error").Inc()
		s.log.Error("export write failed", zap.String("device_id", deviceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate export"})
		return
	}

	filename := fmt.Sprintf("energiemonitor_%s_%s_%s.xlsx", deviceID, startStr, endStr)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", workbook.Bytes())

	s.metrics.exportRequests.WithLabelValues("ok").Inc()
	s.metrics.exportRows.Add(float64(rows))
	s.log.Info("export generated",
		zap.String("device_id", deviceID),
		zap.Int("rows", rows),
		zap.Int("days", days))
}

func (s *Server) handleSensors(c *gin.Context) {
	deviceID := c.GetString("device_id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	records, err := s.config.MetadataStore.List(ctx, deviceID)
	if err != nil {
		s.log.Error("metadata list failed", zap.String("device_id", deviceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list metering points"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"metering_points": records,
		"count":           len(records),
	})
}

func (s *Server) validateReadings(readings []domain.Reading) ([]domain.Reading, []string) {
	valid := make([]domain.Reading, 0, len(readings))
	var validationErrors []string

	for i, r := range readings {
		if err := r.Validate(); err != nil {
			validationErrors = append(validationErrors, fmt.Sprintf("Record %d: %v", i, err))
			continue
		}
		if s.config.StrictMeteringPoints {
			if err := domain.ValidateMeteringPoint(r.MeteringPoint); err != nil {
				validationErrors = append(validationErrors, fmt.Sprintf("Record %d: %v", i, err))
				continue
			}
		}
		if r.Timestamp == 0 {
			r.Timestamp = time.Now().UnixMilli()
		}
		valid = append(valid, r)
	}
	return valid, validationErrors
}

func (s *Server) publishIngestEvent(deviceID string, result *batch.IngestResult) {
	if s.config.Publisher == nil {
		return
	}

	event := domain.IngestEvent{
		DeviceID:  deviceID,
		Accepted:  result.Accepted,
		Documents: result.Documents,
		Timestamp: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.config.Publisher.Publish(ctx, data); err != nil {
		// The feed is advisory; data is already committed.
		s.log.Warn("ingest event publish failed", zap.String("device_id", deviceID), zap.Error(err))
	}
}

// decodeReadings accepts either a single JSON object or an array of objects
// (NodeRED batch uploads send arrays).
func decodeReadings(raw []byte) ([]domain.Reading, error) {
	var readings []domain.Reading
	if err := json.Unmarshal(raw, &readings); err == nil {
		return readings, nil
	}

	var single domain.Reading
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []domain.Reading{single}, nil
}

// parseExportDate accepts an epoch-ms timestamp, a plain date, or an RFC3339
// datetime. A plain end date is extended to the end of that UTC day.
func parseExportDate(s string, endOfDay bool) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Millisecond)
		}
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid date format: %q", s)
}

func truncate(errs []string) []string {
	if len(errs) > maxErrorDetails {
		return errs[:maxErrorDetails]
	}
	return errs
}

// Handler exposes the routing tree for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.config.Port,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.log.Info("server starting", zap.String("port", s.config.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Close() error {
	if s.config.Publisher != nil {
		return s.config.Publisher.Close()
	}
	return nil
}
