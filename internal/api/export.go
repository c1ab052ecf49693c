package api

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/rewired-gh/quakesentinel/internal/stats"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// BuildStatsXLSX renders general statistics as a workbook with a summary
// sheet and a daily sheet.
func BuildStatsXLSX(s *stats.GeneralStats) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	dailySheet := "daily"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(dailySheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Seismic Statistics")
	_ = f.SetCellValue(summarySheet, "A2", "Period (days)")
	_ = f.SetCellValue(summarySheet, "B2", s.PeriodDays)
	_ = f.SetCellValue(summarySheet, "A3", "Generated")
	_ = f.SetCellValue(summarySheet, "B3", s.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))

	header := []any{"Event type", "Total events", "Avg acceleration", "Max acceleration", "Min acceleration"}
	if err := f.SetSheetRow(summarySheet, "A5", &header); err != nil {
		return nil, err
	}
	for i, t := range s.Summary {
		row := []any{string(t.EventType), t.TotalEvents, t.AvgAcceleration, t.MaxAcceleration, t.MinAcceleration}
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+6), &row); err != nil {
			return nil, err
		}
	}

	header = []any{"Date", "Event type", "Count", "Avg acceleration", "Max acceleration", "Min acceleration"}
	if err := f.SetSheetRow(dailySheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, d := range s.DailyStats {
		row := []any{d.Date, string(d.EventType), d.Count, d.AvgAcceleration, d.MaxAcceleration, d.MinAcceleration}
		if err := f.SetSheetRow(dailySheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
