// Package runstore keeps a history of smoke runs in BigQuery.
package runstore

import (
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/ledgerx-smoke/internal/smoke"
)

const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"

	maxErrorLen = 2000
)

// RunRow is one row of the runs table.
type RunRow struct {
	RunID      string    `bigquery:"run_id"`      // REQUIRED
	StartedTS  time.Time `bigquery:"started_ts"`  // REQUIRED
	FinishedTS time.Time `bigquery:"finished_ts"` // REQUIRED
	DurationMS int64     `bigquery:"duration_ms"`

	BaseURL string             `bigquery:"base_url"`
	Email   string             `bigquery:"email"`
	UserID  bigquery.NullInt64 `bigquery:"user_id"`

	Outcome      string              `bigquery:"outcome"`
	FailedStep   bigquery.NullString `bigquery:"failed_step"`
	FailureKind  bigquery.NullString `bigquery:"failure_kind"`
	HTTPStatus   bigquery.NullInt64  `bigquery:"http_status"`
	ErrorMessage bigquery.NullString `bigquery:"error_message"`

	ExportID     bigquery.NullString `bigquery:"export_id"`
	ExportMonth  bigquery.NullDate   `bigquery:"export_month"` // DATE, first day of the month
	ExportStatus bigquery.NullString `bigquery:"export_status"`
	PollAttempts int64               `bigquery:"poll_attempts"`

	ArtifactPath   bigquery.NullString `bigquery:"artifact_path"`
	ArtifactSource bigquery.NullString `bigquery:"artifact_source"`
	ArchivedURI    bigquery.NullString `bigquery:"archived_uri"`
	CSVRows        bigquery.NullInt64  `bigquery:"csv_rows"`
}

// RowFromReport flattens a run report.
func RowFromReport(r *smoke.Report) RunRow {
	row := RunRow{
		RunID:      r.RunID,
		StartedTS:  r.StartedAt.UTC(),
		FinishedTS: r.FinishedAt.UTC(),
		DurationMS: r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
		BaseURL:    r.BaseURL,
		Outcome:    OutcomeOK,
	}

	if r.Err != nil {
		row.Outcome = OutcomeFailed
		row.ErrorMessage = nullString(truncate(r.Err.Error()))
		if se, ok := smoke.AsStepError(r.Err); ok {
			row.FailedStep = nullString(se.Step)
			row.FailureKind = nullString(string(se.Kind))
			if se.Status != 0 {
				row.HTTPStatus = bigquery.NullInt64{Int64: int64(se.Status), Valid: true}
			}
		}
	}

	st := r.State
	if st == nil {
		return row
	}

	row.Email = st.Email
	if st.Token != "" {
		row.UserID = bigquery.NullInt64{Int64: st.UserID, Valid: true}
	}
	row.ExportID = nullString(st.ExportID)
	row.ExportMonth = exportMonth(st.Month)
	row.ExportStatus = nullString(st.ExportStatus)
	row.PollAttempts = int64(st.PollAttempts)
	row.ArchivedURI = nullString(st.Archived)
	if st.Artifact != nil {
		row.ArtifactPath = nullString(st.Artifact.Path)
		row.ArtifactSource = nullString(string(st.Artifact.Source))
	} else {
		row.ArtifactPath = nullString(st.FilePath)
	}
	if st.CSV != nil {
		row.CSVRows = bigquery.NullInt64{Int64: int64(st.CSV.Rows), Valid: true}
	}
	return row
}

func exportMonth(month string) bigquery.NullDate {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return bigquery.NullDate{}
	}
	return bigquery.NullDate{Date: civil.DateOf(t), Valid: true}
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func truncate(s string) string {
	if len(s) > maxErrorLen {
		return s[:maxErrorLen]
	}
	return s
}
