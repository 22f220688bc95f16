package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockObjectStore is a mock implementation of ObjectStore for testing.
type mockObjectStore struct {
	FetchFunc  func(ctx context.Context, uri string) ([]byte, error)
	UploadFunc func(ctx context.Context, bucket, object string, r io.Reader) error
}

func (m *mockObjectStore) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, uri)
	}
	return nil, errors.New("not found")
}

func (m *mockObjectStore) Upload(ctx context.Context, bucket, object string, r io.Reader) error {
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, bucket, object, r)
	}
	return nil
}

func writeExport(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLocate_ReportedPath(t *testing.T) {
	dir := t.TempDir()
	p := writeExport(t, dir, "export_1.csv", "id,account_id\n")

	loc := NewLocator(t.TempDir(), nil, zerolog.Nop())
	a, err := loc.Locate(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, p, a.Path)
	assert.Equal(t, SourceReported, a.Source)
	assert.Equal(t, []string{p}, a.Checked)
}

func TestLocate_FallbackExportsDir(t *testing.T) {
	root := t.TempDir()
	local := writeExport(t, filepath.Join(root, "exports"), "export_2.csv", "data")

	loc := NewLocator(root, nil, zerolog.Nop())
	a, err := loc.Locate(context.Background(), "/var/lib/ledger/tmp/exports/export_2.csv")
	require.NoError(t, err)

	assert.Equal(t, local, a.Path)
	assert.Equal(t, SourceFallback, a.Source)
	assert.Equal(t, []string{"/var/lib/ledger/tmp/exports/export_2.csv", local}, a.Checked)
}

func TestLocate_RelativeReportedPath(t *testing.T) {
	root := t.TempDir()
	local := writeExport(t, filepath.Join(root, "exports"), "export_5.csv", "data")

	loc := NewLocator(root, nil, zerolog.Nop())
	a, err := loc.Locate(context.Background(), "./tmp/exports/export_5.csv")
	require.NoError(t, err)
	assert.Equal(t, local, a.Path)
}

func TestLocate_NotFound(t *testing.T) {
	loc := NewLocator(t.TempDir(), nil, zerolog.Nop())

	_, err := loc.Locate(context.Background(), "/nowhere/export_9.csv")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "export_9.csv")

	_, err = loc.Locate(context.Background(), "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocate_DirectoryIsNotAnArtifact(t *testing.T) {
	dir := t.TempDir()
	loc := NewLocator(t.TempDir(), nil, zerolog.Nop())

	_, err := loc.Locate(context.Background(), dir)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocate_GCSObject(t *testing.T) {
	store := &mockObjectStore{
		FetchFunc: func(ctx context.Context, uri string) ([]byte, error) {
			assert.Equal(t, "gs://exports/2024/export_3.csv", uri)
			return []byte("id,account_id\n1,2\n"), nil
		},
	}

	loc := NewLocator(t.TempDir(), store, zerolog.Nop())
	a, err := loc.Locate(context.Background(), "gs://exports/2024/export_3.csv")
	require.NoError(t, err)
	assert.Equal(t, SourceGCS, a.Source)

	preview, err := a.Preview(7)
	require.NoError(t, err)
	assert.Equal(t, "id,acco", string(preview))
}

func TestLocate_GCSObjectFallsBackToLocal(t *testing.T) {
	root := t.TempDir()
	local := writeExport(t, filepath.Join(root, "exports"), "export_4.csv", "x")

	loc := NewLocator(root, &mockObjectStore{}, zerolog.Nop())
	a, err := loc.Locate(context.Background(), "gs://exports/export_4.csv")
	require.NoError(t, err)
	assert.Equal(t, local, a.Path)
	assert.Equal(t, SourceFallback, a.Source)
}

func TestPreview_Limits(t *testing.T) {
	content := strings.Repeat("a", 1000)
	p := writeExport(t, t.TempDir(), "big.csv", content)

	a := &Artifact{Path: p}
	preview, err := a.Preview(400)
	require.NoError(t, err)
	assert.Len(t, preview, 400)

	small := writeExport(t, t.TempDir(), "small.csv", "short")
	a = &Artifact{Path: small}
	preview, err = a.Preview(400)
	require.NoError(t, err)
	assert.Equal(t, "short", string(preview))
}

func TestOpen_InMemory(t *testing.T) {
	a := &Artifact{Path: "gs://b/o", data: []byte("payload")}
	rc, err := a.Open()
	require.NoError(t, err)
	defer rc.Close()

	var buf bytes.Buffer
	_, err = io.Copy(&buf, rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", buf.String())
}

func TestParseGCSURI(t *testing.T) {
	bucket, object, err := ParseGCSURI("gs://my-bucket/path/to/export.csv")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "path/to/export.csv", object)

	for _, bad := range []string{"s3://b/o", "gs://bucket", "gs://bucket/", "gs:///obj"} {
		_, _, err := ParseGCSURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "export_3.csv", BaseName("gs://bucket/folder/export_3.csv"))
	assert.Equal(t, "export_3.csv", BaseName("./tmp/exports/export_3.csv"))
	assert.Equal(t, "export_3.csv", BaseName(`C:\ledger\exports\export_3.csv`))
}
