package smoke

import (
	"context"
	"io"

	"github.com/dvloznov/ledgerx-smoke/internal/artifact"
	"github.com/dvloznov/ledgerx-smoke/internal/ledgerclient"
)

// LedgerAPI is the part of the ledger HTTP API the scenario drives.
// *ledgerclient.Client implements it.
type LedgerAPI interface {
	Register(ctx context.Context, creds ledgerclient.Credentials) ledgerclient.Result
	Login(ctx context.Context, creds ledgerclient.Credentials) ledgerclient.Result
	CreateAccount(ctx context.Context, tok string, req ledgerclient.AccountRequest) ledgerclient.Result
	CreateTransaction(ctx context.Context, tok string, req ledgerclient.TransactionRequest) ledgerclient.Result
	CreateExport(ctx context.Context, tok, month string) ledgerclient.Result
	ExportStatus(ctx context.Context, id string) ledgerclient.Result
	DownloadExport(ctx context.Context, tok, id string) ledgerclient.Result
	Health(ctx context.Context) ledgerclient.Result
}

// ArtifactLocator resolves the file path an export reports.
// *artifact.Locator implements it.
type ArtifactLocator interface {
	Locate(ctx context.Context, reported string) (*artifact.Artifact, error)
}

// Uploader archives artifacts. artifact.ObjectStore satisfies it.
type Uploader interface {
	Upload(ctx context.Context, bucket, object string, r io.Reader) error
}

var (
	_ LedgerAPI       = (*ledgerclient.Client)(nil)
	_ ArtifactLocator = (*artifact.Locator)(nil)
	_ Uploader        = (artifact.ObjectStore)(nil)
)
