// Package export produces spreadsheet reports over users, usage and projects.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/note2tex/constants"
	"github.com/joseph-ayodele/note2tex/internal/common"
	"github.com/joseph-ayodele/note2tex/internal/repository"
)

const (
	usageSheet    = "Usage"
	projectsSheet = "Projects"
)

// Service is a tiny façade over repositories that produces XLSX bytes for exports.
type Service struct {
	users     repository.UserRepository
	usage     repository.UsageRepository
	projects  repository.ProjectRepository
	freePages int
	logger    *slog.Logger
}

func NewService(users repository.UserRepository, usage repository.UsageRepository, projects repository.ProjectRepository, freePages int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, usage: usage, projects: projects, freePages: freePages, logger: logger}
}

// ExportUsageXLSX returns a workbook for monthKey ("YYYY-MM") with one row per
// user on the Usage sheet and per-status project counts on the Projects sheet.
func (s *Service) ExportUsageXLSX(ctx context.Context, monthKey string) ([]byte, error) {
	start := time.Now()

	month, err := time.Parse("2006-01", monthKey)
	if err != nil {
		return nil, common.NewAppError(common.CodeValidation, fmt.Sprintf("month %q must be YYYY-MM", monthKey), common.ErrValidation)
	}

	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	rows, err := s.usage.ListByMonth(ctx, monthKey)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	used := make(map[uuid.UUID]int, len(rows))
	for _, r := range rows {
		used[r.UserID] = r.PagesUsed
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// the default sheet becomes Usage
	if err := f.SetSheetName("Sheet1", usageSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(projectsSheet); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(usageSheet)
	f.SetActiveSheet(activeIndex)

	writeRow(f, usageSheet, 1, "User ID", "Email", "Plan", "Month", "Pages Used", "Free Limit", "Remaining")
	statuses := []constants.ProjectStatus{
		constants.ProjectStatusProcessing,
		constants.ProjectStatusReady,
		constants.ProjectStatusFailed,
	}
	writeRow(f, projectsSheet, 1, "User ID", "Email", "Processing", "Ready", "Failed", "Total")

	// expiry is judged at the end of the reported month
	monthEnd := month.AddDate(0, 1, 0).Add(-time.Second)
	for i, u := range users {
		row := i + 2
		pages := used[u.ID]
		if u.IsPremium(monthEnd) {
			writeRow(f, usageSheet, row, u.ID.String(), u.Email, string(u.Plan), monthKey, pages, "unlimited", "unlimited")
		} else {
			writeRow(f, usageSheet, row, u.ID.String(), u.Email, string(constants.PlanFree), monthKey, pages, s.freePages, max(0, s.freePages-pages))
		}

		counts, err := s.projects.CountByStatus(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("count projects: %w", err)
		}
		total := 0
		vals := []any{u.ID.String(), u.Email}
		for _, st := range statuses {
			vals = append(vals, counts[st])
			total += counts[st]
		}
		writeRow(f, projectsSheet, row, append(vals, total)...)
	}

	_ = f.SetColWidth(usageSheet, "A", "A", 38)
	_ = f.SetColWidth(usageSheet, "B", "B", 32)
	_ = f.SetColWidth(usageSheet, "C", "G", 12)
	_ = f.SetColWidth(projectsSheet, "A", "A", 38)
	_ = f.SetColWidth(projectsSheet, "B", "B", 32)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"month", monthKey,
		"users", len(users),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}
