package runstore

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/dvloznov/ledgerx-smoke/internal/artifact"
	"github.com/dvloznov/ledgerx-smoke/internal/smoke"
)

var started = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func TestRowFromReport_Success(t *testing.T) {
	report := &smoke.Report{
		RunID:      "run-1",
		BaseURL:    "http://127.0.0.1:8080",
		StartedAt:  started,
		FinishedAt: started.Add(2500 * time.Millisecond),
		State: &smoke.State{
			Email:        "smoke2+1@example.com",
			Token:        "tok",
			UserID:       7,
			Month:        "2025-01",
			ExportID:     "5",
			ExportStatus: "done",
			PollAttempts: 3,
			FilePath:     "./tmp/exports/export_5.csv",
			Artifact:     &artifact.Artifact{Path: "/srv/exports/export_5.csv", Source: artifact.SourceFallback},
			CSV:          &artifact.CSVReport{Rows: 4},
			Archived:     "gs://b/smoke/run-1/export_5.csv",
		},
	}

	row := RowFromReport(report)

	assert.Equal(t, "run-1", row.RunID)
	assert.Equal(t, OutcomeOK, row.Outcome)
	assert.Equal(t, int64(2500), row.DurationMS)
	assert.Equal(t, bigquery.NullInt64{Int64: 7, Valid: true}, row.UserID)
	assert.Equal(t, bigquery.NullDate{Date: civil.Date{Year: 2025, Month: time.January, Day: 1}, Valid: true}, row.ExportMonth)
	assert.Equal(t, "5", row.ExportID.StringVal)
	assert.Equal(t, int64(3), row.PollAttempts)
	assert.Equal(t, "/srv/exports/export_5.csv", row.ArtifactPath.StringVal)
	assert.Equal(t, "fallback", row.ArtifactSource.StringVal)
	assert.Equal(t, bigquery.NullInt64{Int64: 4, Valid: true}, row.CSVRows)
	assert.True(t, row.ArchivedURI.Valid)
	assert.False(t, row.FailedStep.Valid)
	assert.False(t, row.ErrorMessage.Valid)
	assert.False(t, row.HTTPStatus.Valid)
}

func TestRowFromReport_StepFailure(t *testing.T) {
	report := &smoke.Report{
		RunID:      "run-2",
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
		State:      &smoke.State{Email: "x@example.com", FilePath: "/gone/export_1.csv"},
		Err:        &smoke.StepError{Step: "register", Kind: smoke.KindStatus, Status: 500, Msg: "register failed"},
	}

	row := RowFromReport(report)

	assert.Equal(t, OutcomeFailed, row.Outcome)
	assert.Equal(t, bigquery.NullString{StringVal: "register", Valid: true}, row.FailedStep)
	assert.Equal(t, bigquery.NullString{StringVal: "status", Valid: true}, row.FailureKind)
	assert.Equal(t, bigquery.NullInt64{Int64: 500, Valid: true}, row.HTTPStatus)
	assert.Equal(t, "register: register failed (status 500)", row.ErrorMessage.StringVal)
	assert.False(t, row.UserID.Valid, "no token, no user")
	assert.False(t, row.ExportMonth.Valid)
	assert.Equal(t, "/gone/export_1.csv", row.ArtifactPath.StringVal)
	assert.False(t, row.ArtifactSource.Valid)
}

func TestRowFromReport_PlainErrorAndNoState(t *testing.T) {
	long := strings.Repeat("e", 3000)
	report := &smoke.Report{RunID: "run-3", Err: fmt.Errorf("wrapped: %w", errors.New(long))}

	row := RowFromReport(report)

	assert.Equal(t, OutcomeFailed, row.Outcome)
	assert.False(t, row.FailedStep.Valid)
	assert.Len(t, row.ErrorMessage.StringVal, maxErrorLen)
}

func TestInsertSQLMatchesParams(t *testing.T) {
	sql := insertSQL("smoke", "runs")
	params := insertParams(RunRow{})

	require.Len(t, params, len(runColumns))
	assert.Contains(t, sql, "INSERT smoke.runs")
	for i, p := range params {
		assert.Equal(t, runColumns[i], p.Name)
		assert.Contains(t, sql, "@"+p.Name)
	}
}

func TestInsertColumnsMatchSchema(t *testing.T) {
	schema, err := bigquery.InferSchema(RunRow{})
	require.NoError(t, err)

	names := make([]string, len(schema))
	for i, f := range schema {
		names[i] = f.Name
	}
	assert.ElementsMatch(t, names, runColumns)
}

func TestRecentSQL(t *testing.T) {
	assert.NotContains(t, recentSQL("smoke", "runs", false), "@outcome")
	q := recentSQL("smoke", "runs", true)
	assert.Contains(t, q, "WHERE outcome = @outcome")
	assert.Contains(t, q, "LIMIT @limit")
}

func TestIsNotFound(t *testing.T) {
	notFound := &googleapi.Error{Code: http.StatusNotFound, Message: "Not found: Table"}

	assert.True(t, isNotFound(notFound))
	assert.True(t, isNotFound(fmt.Errorf("get table metadata: %w", notFound)))
	assert.False(t, isNotFound(&googleapi.Error{Code: http.StatusForbidden}))
	assert.False(t, isNotFound(errors.New("not found")))
	assert.False(t, isNotFound(nil))
}
