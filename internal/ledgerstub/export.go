package ledgerstub

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/dvloznov/ledgerx-smoke/internal/artifact"
	"github.com/dvloznov/ledgerx-smoke/internal/jobs"
)

var errExportFailed = errors.New("export failed")

// runExport is the job handler: it writes one user's transactions for the
// job's month and returns the file path.
func (s *Server) runExport(ctx context.Context, job *jobs.ExportJob) (string, error) {
	log := s.log.With().Str("job_id", job.JobID).Int64("export_id", job.ExportID).Logger()

	if s.opts.ExportDelay > 0 {
		t := time.NewTimer(s.opts.ExportDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		}
	}

	if s.opts.FailExports {
		log.Warn().Msg("Export configured to fail")
		return "", errExportFailed
	}

	month, err := time.Parse("2006-01-02", job.Month)
	if err != nil {
		return "", fmt.Errorf("invalid export month %q: %w", job.Month, err)
	}

	rows := s.transactionsFor(job.UserID, month)

	filePath := filepath.Join(s.opts.ExportDir, fmt.Sprintf("export_%d.csv", job.ExportID))
	if err := writeExportCSV(filePath, rows); err != nil {
		log.Error().Err(err).Msg("Failed to write export")
		return "", err
	}

	log.Info().Str("file_path", filePath).Int("rows", len(rows)).Msg("Export written")
	return filePath, nil
}

func (s *Server) transactionsFor(userID int64, month time.Time) []transaction {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []transaction
	for _, tx := range s.transactions {
		if tx.UserID != userID {
			continue
		}
		if tx.OccurredAt.Before(start) || !tx.OccurredAt.Before(end) {
			continue
		}
		out = append(out, *tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out
}

func writeExportCSV(path string, rows []transaction) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close export file: %w", cerr)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(artifact.ExportColumns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, tx := range rows {
		record := []string{
			strconv.FormatInt(tx.ID, 10),
			strconv.FormatInt(tx.AccountID, 10),
			"",
			strconv.FormatInt(tx.AmountMinor, 10),
			tx.Currency,
			tx.OccurredAt.Format(time.RFC3339),
			tx.Note,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
