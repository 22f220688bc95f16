package runstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Recorder stores run outcomes.
type Recorder interface {
	Record(ctx context.Context, row RunRow) error
}

// NopRecorder discards rows. It is used when no runs project is configured.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, RunRow) error { return nil }

// BigQueryStore keeps runs in <project>.<dataset>.<table>.
type BigQueryStore struct {
	client  *bigquery.Client
	dataset string
	table   string
}

// NewBigQueryStore creates a BigQuery-backed store.
func NewBigQueryStore(ctx context.Context, project, dataset, table string, opts ...option.ClientOption) (*BigQueryStore, error) {
	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryStore: bigquery client: %w", err)
	}
	return NewBigQueryStoreWithClient(client, dataset, table), nil
}

// NewBigQueryStoreWithClient wraps an existing client.
func NewBigQueryStoreWithClient(client *bigquery.Client, dataset, table string) *BigQueryStore {
	return &BigQueryStore{client: client, dataset: dataset, table: table}
}

// Close closes the underlying client.
func (s *BigQueryStore) Close() error {
	return s.client.Close()
}

// EnsureTable creates the runs table when it does not exist yet.
func (s *BigQueryStore) EnsureTable(ctx context.Context) error {
	schema, err := bigquery.InferSchema(RunRow{})
	if err != nil {
		return fmt.Errorf("EnsureTable: inferring schema: %w", err)
	}

	t := s.client.Dataset(s.dataset).Table(s.table)
	if _, err := t.Metadata(ctx); err == nil {
		return nil
	} else if !isNotFound(err) {
		return fmt.Errorf("EnsureTable: reading metadata: %w", err)
	}

	meta := &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "started_ts",
		},
	}
	if err := t.Create(ctx, meta); err != nil {
		return fmt.Errorf("EnsureTable: creating table: %w", err)
	}
	return nil
}

// Record inserts row with a DML statement so the row is immediately
// visible to ListRecent.
func (s *BigQueryStore) Record(ctx context.Context, row RunRow) error {
	q := s.client.Query(insertSQL(s.dataset, s.table))
	q.Parameters = insertParams(row)

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("Record: running insert query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("Record: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("Record: job error: %w", err)
	}
	return nil
}

// ListRecent returns up to limit runs, newest first. A non-empty outcome
// restricts the result to that outcome.
func (s *BigQueryStore) ListRecent(ctx context.Context, limit int, outcome string) ([]*RunRow, error) {
	if limit <= 0 {
		limit = 20
	}

	q := s.client.Query(recentSQL(s.dataset, s.table, outcome != ""))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "limit", Value: int64(limit)},
	}
	if outcome != "" {
		q.Parameters = append(q.Parameters, bigquery.QueryParameter{Name: "outcome", Value: outcome})
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRecent: reading query: %w", err)
	}

	var runs []*RunRow
	for {
		var row RunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRecent: iterating: %w", err)
		}
		runs = append(runs, &row)
	}
	return runs, nil
}

// runColumns lists the columns in insert order.
var runColumns = []string{
	"run_id", "started_ts", "finished_ts", "duration_ms",
	"base_url", "email", "user_id",
	"outcome", "failed_step", "failure_kind", "http_status", "error_message",
	"export_id", "export_month", "export_status", "poll_attempts",
	"artifact_path", "artifact_source", "archived_uri", "csv_rows",
}

func insertSQL(dataset, table string) string {
	cols := ""
	vals := ""
	for i, c := range runColumns {
		if i > 0 {
			cols += ",\n\t\t\t"
			vals += ",\n\t\t\t"
		}
		cols += c
		vals += "@" + c
	}
	return fmt.Sprintf(`
		INSERT %s.%s (
			%s
		)
		VALUES (
			%s
		)
	`, dataset, table, cols, vals)
}

func insertParams(row RunRow) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "run_id", Value: row.RunID},
		{Name: "started_ts", Value: row.StartedTS},
		{Name: "finished_ts", Value: row.FinishedTS},
		{Name: "duration_ms", Value: row.DurationMS},
		{Name: "base_url", Value: row.BaseURL},
		{Name: "email", Value: row.Email},
		{Name: "user_id", Value: row.UserID},
		{Name: "outcome", Value: row.Outcome},
		{Name: "failed_step", Value: row.FailedStep},
		{Name: "failure_kind", Value: row.FailureKind},
		{Name: "http_status", Value: row.HTTPStatus},
		{Name: "error_message", Value: row.ErrorMessage},
		{Name: "export_id", Value: row.ExportID},
		{Name: "export_month", Value: row.ExportMonth},
		{Name: "export_status", Value: row.ExportStatus},
		{Name: "poll_attempts", Value: row.PollAttempts},
		{Name: "artifact_path", Value: row.ArtifactPath},
		{Name: "artifact_source", Value: row.ArtifactSource},
		{Name: "archived_uri", Value: row.ArchivedURI},
		{Name: "csv_rows", Value: row.CSVRows},
	}
}

func recentSQL(dataset, table string, byOutcome bool) string {
	where := ""
	if byOutcome {
		where = "WHERE outcome = @outcome"
	}
	return fmt.Sprintf(`
		SELECT *
		FROM %s.%s
		%s
		ORDER BY started_ts DESC
		LIMIT @limit
	`, dataset, table, where)
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

var (
	_ Recorder = (*BigQueryStore)(nil)
	_ Recorder = NopRecorder{}
)
