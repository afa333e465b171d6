// Package export writes scan history to an Excel workbook.
package export

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/cropscan/cropscan/internal/datastore"
	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/logger"
)

const (
	scansSheet   = "Scans"
	summarySheet = "Summary"
)

var scanHeader = []any{"ID", "Created (UTC)", "Crop", "Top label", "Confidence %", "Treatment", "Location", "Notes", "Image path"}

// Source is the subset of the store an export reads.
type Source interface {
	ListRecentScans(ctx context.Context, limit int) ([]datastore.Scan, error)
	LabelHistogram(ctx context.Context, limit int) (map[string]int, int, error)
}

// Workbook writes the most recent limit scans and a label summary as XLSX to w.
// It returns the number of scan rows written.
func Workbook(ctx context.Context, src Source, limit int, w io.Writer) (int, error) {
	start := time.Now()
	limit = datastore.ClampLimit(limit)

	scans, err := src.ListRecentScans(ctx, limit)
	if err != nil {
		return 0, err
	}
	counts, total, err := src.LabelHistogram(ctx, limit)
	if err != nil {
		return 0, err
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			GetLogger().Warn("failed to close workbook", logger.Error(err))
		}
	}()

	if err := f.SetSheetName("Sheet1", scansSheet); err != nil {
		return 0, renderError(err, "rename_sheet")
	}
	if err := writeScans(f, scans); err != nil {
		return 0, renderError(err, "write_scans")
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return 0, renderError(err, "new_sheet")
	}
	if err := writeSummary(f, counts, total); err != nil {
		return 0, renderError(err, "write_summary")
	}

	if err := f.Write(w); err != nil {
		return 0, errors.New(err).
			Component("export").
			Category(errors.CategoryFileIO).
			Context("operation", "write_workbook").
			Build()
	}

	GetLogger().Info("scan export written",
		logger.Int("rows", len(scans)),
		logger.Duration("duration", time.Since(start)))
	return len(scans), nil
}

func writeScans(f *excelize.File, scans []datastore.Scan) error {
	if err := writeHeader(f, scansSheet, scanHeader); err != nil {
		return err
	}

	for i := range scans {
		s := &scans[i]
		imagePath := ""
		if s.ImagePath != nil {
			imagePath = *s.ImagePath
		}
		row := []any{
			s.ID,
			s.CreatedAt.UTC().Format(time.DateTime),
			s.Crop,
			s.Label,
			round2(s.Confidence * 100),
			s.Treatment,
			s.Geo,
			s.Notes,
			imagePath,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(scansSheet, cell, &row); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(scansSheet, "A", "A", 8); err != nil {
		return err
	}
	if err := f.SetColWidth(scansSheet, "B", "E", 20); err != nil {
		return err
	}
	if err := f.SetColWidth(scansSheet, "F", "I", 40); err != nil {
		return err
	}

	if len(scans) > 0 {
		last, err := excelize.CoordinatesToCellName(len(scanHeader), len(scans)+1)
		if err != nil {
			return err
		}
		if err := f.AutoFilter(scansSheet, "A1:"+last, nil); err != nil {
			return err
		}
	}
	return nil
}

func writeSummary(f *excelize.File, counts map[string]int, total int) error {
	if err := writeHeader(f, summarySheet, []any{"Label", "Scans", "Share %"}); err != nil {
		return err
	}

	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if counts[labels[i]] != counts[labels[j]] {
			return counts[labels[i]] > counts[labels[j]]
		}
		return labels[i] < labels[j]
	})

	for i, label := range labels {
		share := 0.0
		if total > 0 {
			share = round2(float64(counts[label]) / float64(total) * 100)
		}
		row := []any{label, counts[label], share}
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return err
		}
	}

	totalRow := []any{"Total", total}
	if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", len(labels)+2), &totalRow); err != nil {
		return err
	}
	return f.SetColWidth(summarySheet, "A", "A", 40)
}

func writeHeader(f *excelize.File, sheet string, header []any) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

func renderError(err error, op string) error {
	return errors.New(err).
		Component("export").
		Category(errors.CategoryRender).
		Context("operation", op).
		Build()
}
