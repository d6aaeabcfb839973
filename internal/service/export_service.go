package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/paideia-lms/Paideia-sub010/internal/dto"
	"github.com/paideia-lms/Paideia-sub010/internal/models"
	"github.com/paideia-lms/Paideia-sub010/pkg/export"
	"github.com/paideia-lms/Paideia-sub010/pkg/storage"
	appErrors "github.com/paideia-lms/Paideia-sub010/pkg/errors"
)

type rosterProvider interface {
	Roster(ctx context.Context, gradebookID string) (*models.RosterReport, error)
}

type fileStorage interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type urlSigner interface {
	Generate(owner, relPath string) (string, time.Time, error)
	Parse(token string) (owner, relPath string, expiresAt time.Time, err error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

var rosterHeaders = []string{"Enrollment ID", "User ID", "Final Grade (%)", "Total Weight", "Graded Items"}

// ExportService renders roster reports to files and hands out signed links.
type ExportService struct {
	rosters rosterProvider
	storage fileStorage
	signer  urlSigner
	logger  *zap.Logger
	cfg     ExportConfig
	now     func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(rosters rosterProvider, storage fileStorage, signer urlSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		rosters: rosters,
		storage: storage,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Generate renders the roster of a gradebook and returns a signed download link.
func (s *ExportService) Generate(ctx context.Context, gradebookID string, req dto.ExportRequest) (*dto.ExportResult, error) {
	var payload []byte
	report, err := s.rosters.Roster(ctx, gradebookID)
	if err != nil {
		return nil, err
	}
	table := rosterTable(report)
	switch req.Format {
	case dto.ExportFormatCSV:
		payload, err = export.CSV(table)
	case dto.ExportFormatPDF:
		payload, err = export.PDF(table)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", req.Format))
	}
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render export")
	}

	s.prune()
	relPath, err := s.storage.Save(s.filename(gradebookID, req.Format), payload)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to store export")
	}
	token, expiresAt, err := s.signer.Generate(gradebookID, relPath)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to sign export link")
	}

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	s.logger.Info("roster exported", zap.String("gradebook_id", gradebookID), zap.String("format", string(req.Format)), zap.Int("rows", len(report.Rows)))
	return &dto.ExportResult{
		Format:    req.Format,
		URL:       fmt.Sprintf("%s/exports/%s", prefix, token),
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	}, nil
}

// Open validates a download token and opens the file it points at. The caller
// closes the file.
func (s *ExportService) Open(token string) (*os.File, string, error) {
	_, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidToken) {
			return nil, "", appErrors.Clone(appErrors.ErrForbidden, "download link invalid or expired")
		}
		return nil, "", appErrors.Internal(err, "failed to verify download link")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export no longer available")
		}
		return nil, "", appErrors.Internal(err, "failed to open export")
	}
	return file, path.Base(relPath), nil
}

// prune drops exports whose links have expired.
func (s *ExportService) prune() {
	deleted, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL)
	if err != nil {
		s.logger.Warn("export cleanup failed", zap.Error(err))
		return
	}
	if len(deleted) > 0 {
		s.logger.Debug("expired exports removed", zap.Int("files", len(deleted)))
	}
}

func (s *ExportService) filename(gradebookID string, format dto.ExportFormat) string {
	timestamp := s.now().Format("20060102_150405")
	return fmt.Sprintf("%s/roster_%s.%s", sanitizeFilename(gradebookID), timestamp, format)
}

func rosterTable(report *models.RosterReport) export.Table {
	rows := make([][]string, 0, len(report.Rows))
	for _, row := range report.Rows {
		rows = append(rows, []string{
			row.EnrollmentID,
			row.UserID,
			export.FormatPercent(row.FinalGrade),
			export.FormatPercent(row.TotalWeight),
			strconv.Itoa(row.GradedItems),
		})
	}
	return export.Table{
		Title:   fmt.Sprintf("Final Grades - Course %s", report.CourseID),
		Headers: rosterHeaders,
		Rows:    rows,
	}
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
