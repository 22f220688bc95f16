// Package artifact finds and reads the files produced by ledger exports.
//
// The ledger reports the path it wrote to. When the smoke run shares a
// mounted volume with the ledger under a different prefix, the literal path
// does not exist locally, so the file is looked up again by base name under
// <fallback dir>/exports.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when no candidate location holds the artifact.
var ErrNotFound = errors.New("artifact not found")

// Source tells where an artifact was found.
type Source string

const (
	SourceReported Source = "reported"
	SourceFallback Source = "fallback"
	SourceGCS      Source = "gcs"
)

// Artifact is a located export file.
type Artifact struct {
	Path    string
	Source  Source
	Checked []string

	data []byte // set for objects fetched from storage
}

// Preview returns up to n leading bytes of the artifact.
func (a *Artifact) Preview(n int) ([]byte, error) {
	if a.data != nil {
		if len(a.data) > n {
			return a.data[:n], nil
		}
		return a.data, nil
	}

	f, err := os.Open(a.Path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return buf[:read], nil
}

// Open returns a reader over the whole artifact.
func (a *Artifact) Open() (io.ReadCloser, error) {
	if a.data != nil {
		return io.NopCloser(bytes.NewReader(a.data)), nil
	}
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// Locator resolves reported export paths.
type Locator struct {
	fallbackDir string
	store       ObjectStore
	log         zerolog.Logger
}

// NewLocator creates a locator. store may be nil, in which case gs:// paths
// are reported as not found.
func NewLocator(fallbackDir string, store ObjectStore, log zerolog.Logger) *Locator {
	return &Locator{
		fallbackDir: fallbackDir,
		store:       store,
		log:         log.With().Str("component", "artifact").Logger(),
	}
}

// FallbackPath is where the artifact is looked for when the reported path is missing.
func (l *Locator) FallbackPath(reported string) string {
	return filepath.Join(l.fallbackDir, "exports", BaseName(reported))
}

// Locate finds the artifact for a reported path. It checks the reported
// path first and the fallback location second.
func (l *Locator) Locate(ctx context.Context, reported string) (*Artifact, error) {
	if reported == "" {
		return nil, fmt.Errorf("%w: no path reported", ErrNotFound)
	}

	if IsGCSURI(reported) {
		return l.locateObject(ctx, reported)
	}

	checked := []string{reported}
	if isFile(reported) {
		return &Artifact{Path: reported, Source: SourceReported, Checked: checked}, nil
	}
	l.log.Info().Str("path", reported).Msg("File not found on disk at reported path")

	local := l.FallbackPath(reported)
	checked = append(checked, local)
	if isFile(local) {
		l.log.Info().Str("path", local).Msg("Found artifact in fallback exports directory")
		return &Artifact{Path: local, Source: SourceFallback, Checked: checked}, nil
	}

	return nil, fmt.Errorf("%w: checked %s and %s", ErrNotFound, reported, local)
}

func (l *Locator) locateObject(ctx context.Context, uri string) (*Artifact, error) {
	checked := []string{uri}
	if l.store != nil {
		data, err := l.store.Fetch(ctx, uri)
		if err == nil {
			return &Artifact{Path: uri, Source: SourceGCS, Checked: checked, data: data}, nil
		}
		l.log.Warn().Err(err).Str("uri", uri).Msg("Could not fetch artifact from storage")
	}

	local := l.FallbackPath(uri)
	checked = append(checked, local)
	if isFile(local) {
		return &Artifact{Path: local, Source: SourceFallback, Checked: checked}, nil
	}
	return nil, fmt.Errorf("%w: checked %s and %s", ErrNotFound, uri, local)
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
