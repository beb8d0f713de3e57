// Package report renders session results for download.
package report

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"qmaster-service/internal/domain"
)

const leaderboardSheet = "Leaderboard"

// LeaderboardXLSX renders a ranked leaderboard followed by its class statistics.
func LeaderboardXLSX(lb domain.Leaderboard, subject string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(leaderboardSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to drop default sheet: %w", err)
	}

	rows := [][]interface{}{
		{"Test", lb.Token},
		{"Subject", subject},
		{},
		{"Rank", "Participant", "Score", "Total Marks", "Submitted At"},
	}
	for _, e := range lb.Entries {
		rows = append(rows, []interface{}{e.Rank, e.ParticipantID, e.Score, e.TotalMarks, e.SubmittedAt.UTC().Format(time.RFC3339)})
	}
	rows = append(rows,
		[]interface{}{},
		[]interface{}{"Participants", len(lb.Entries)},
		[]interface{}{"Class Average", lb.ClassAverage},
		[]interface{}{"Questions Per Participant", lb.TotalQuestions},
	)

	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(leaderboardSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	if err := f.SetColWidth(leaderboardSheet, "A", "A", 26); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(leaderboardSheet, "B", "E", 22); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}
	return buf.Bytes(), nil
}
