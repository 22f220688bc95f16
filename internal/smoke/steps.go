package smoke

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/dvloznov/ledgerx-smoke/internal/artifact"
	"github.com/dvloznov/ledgerx-smoke/internal/jsonkeys"
	"github.com/dvloznov/ledgerx-smoke/internal/ledgerclient"
	"github.com/dvloznov/ledgerx-smoke/internal/token"
)

// transactionUserID is sent on the transaction regardless of the user the
// token names. Ledger builds that scope exports by token user rely on it.
const transactionUserID int64 = 1

// occurredAtLayout is the timestamp format the ledger accepts for occurred_at.
const occurredAtLayout = "2006-01-02T15:04:05Z"

// Step is a single step of the smoke scenario.
type Step interface {
	Name() string
	Execute(ctx context.Context, state *State) error
}

// WaitHealthyStep polls /healthz until the ledger answers 200.
type WaitHealthyStep struct{ *env }

func (s *WaitHealthyStep) Name() string { return "wait_healthy" }

func (s *WaitHealthyStep) Execute(ctx context.Context, state *State) error {
	attempts := s.cfg.HealthAttempts
	for i := 0; i < attempts; i++ {
		res := s.api.Health(ctx)
		s.echo("health", res, i)
		if res.StatusCode == http.StatusOK {
			return nil
		}
		if i < attempts-1 {
			if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
				return fail(s.Name(), KindCanceled, "interrupted while waiting for ledger", err)
			}
		}
	}
	return fail(s.Name(), KindTimeout, fmt.Sprintf("ledger not healthy after %d attempts", attempts), nil)
}

// RegisterStep registers a fresh user, falling back to login when the
// ledger reports the email as a duplicate.
type RegisterStep struct{ *env }

func (s *RegisterStep) Name() string { return "register" }

func (s *RegisterStep) Execute(ctx context.Context, state *State) error {
	state.Email = fmt.Sprintf("%s+%d@%s", s.cfg.EmailPrefix, s.now().Unix(), s.cfg.EmailDomain)
	state.Password = s.cfg.Password
	creds := ledgerclient.Credentials{Email: state.Email, Password: state.Password}

	s.log.Info().Str("email", state.Email).Msg("Registering user")
	res := s.api.Register(ctx, creds)
	s.echo("register", res, -1)

	switch {
	case res.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(res.Body), "duplicate"):
		s.log.Info().Msg("User exists, logging in")
		res = s.api.Login(ctx, creds)
		s.echo("login", res, -1)
		if res.StatusCode != http.StatusOK {
			return responseFailure(s.Name(), "login failed", res)
		}
	case res.StatusCode != http.StatusOK:
		return responseFailure(s.Name(), "register failed", res)
	}

	state.authBody = res.Body
	return nil
}

// ExtractTokenStep reads the session token and the user id it carries.
type ExtractTokenStep struct{ *env }

func (s *ExtractTokenStep) Name() string { return "extract_token" }

func (s *ExtractTokenStep) Execute(ctx context.Context, state *State) error {
	obj, err := jsonkeys.Decode(state.authBody)
	if err != nil {
		return fail(s.Name(), KindPayload, "invalid auth response", err)
	}
	tok, ok := obj.Value("token")
	str, isString := tok.(string)
	if !ok || !isString {
		return fail(s.Name(), KindPayload, "auth response has no token", nil)
	}
	state.Token = str

	info := token.Inspect(state.Token)
	state.UserID = info.UserID

	ev := s.log.Info().
		Str("token", state.Token).
		Int64("user_id", state.UserID).
		Bool("user_id_from_token", info.Decoded)
	if info.ExpiresAt != nil {
		ev = ev.Time("token_expires", *info.ExpiresAt)
	}
	ev.Msg("Session token acquired")
	return nil
}

// CreateAccountStep creates the account the transaction is booked on.
type CreateAccountStep struct{ *env }

func (s *CreateAccountStep) Name() string { return "create_account" }

func (s *CreateAccountStep) Execute(ctx context.Context, state *State) error {
	s.log.Info().Msg("Creating account")
	res := s.api.CreateAccount(ctx, state.Token, ledgerclient.AccountRequest{
		UserID:   state.UserID,
		Name:     s.cfg.AccountName,
		Currency: s.cfg.Currency,
	})
	s.echo("create_account", res, -1)

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return responseFailure(s.Name(), "create account failed", res)
	}

	obj, err := jsonkeys.Decode(res.Body)
	if err != nil {
		return fail(s.Name(), KindPayload, "invalid account response", err)
	}
	raw, _ := obj.Value("id", "ID", "Id")
	id, ok := ledgerclient.IDFromValue(raw)
	if !ok {
		return fail(s.Name(), KindPayload, "account response has no id", nil)
	}
	state.AccountID = id

	s.log.Info().Str("account_id", id.String()).Msg("Account created")
	return nil
}

// CreateTransactionStep books a fixed transaction on the account.
type CreateTransactionStep struct{ *env }

func (s *CreateTransactionStep) Name() string { return "create_transaction" }

func (s *CreateTransactionStep) Execute(ctx context.Context, state *State) error {
	s.log.Info().Msg("Creating transaction")
	res := s.api.CreateTransaction(ctx, state.Token, ledgerclient.TransactionRequest{
		UserID:      transactionUserID,
		AccountID:   state.AccountID,
		AmountMinor: s.cfg.AmountMinor,
		Currency:    s.cfg.Currency,
		OccurredAt:  s.now().UTC().Format(occurredAtLayout),
		Note:        s.cfg.Note,
	})
	s.echo("create_transaction", res, -1)

	if res.StatusCode != http.StatusOK {
		return responseFailure(s.Name(), "create tx failed", res)
	}
	return nil
}

// RequestExportStep asks for the current month's export.
type RequestExportStep struct{ *env }

func (s *RequestExportStep) Name() string { return "request_export" }

func (s *RequestExportStep) Execute(ctx context.Context, state *State) error {
	state.Month = s.now().UTC().Format("2006-01")

	s.log.Info().Str("month", state.Month).Msg("Requesting export")
	res := s.api.CreateExport(ctx, state.Token, state.Month)
	s.echo("create_export", res, -1)

	if res.StatusCode != http.StatusOK {
		return responseFailure(s.Name(), "create export failed", res)
	}

	obj, err := jsonkeys.Decode(res.Body)
	if err != nil {
		return fail(s.Name(), KindPayload, "invalid export response", err)
	}
	id, ok := obj.String("id", "ID", "Id")
	if !ok {
		return fail(s.Name(), KindPayload, "export response has no id", nil)
	}
	state.ExportID = id
	state.ReportedPath, _ = obj.String("file_path", "FilePath", "filePath")

	s.log.Info().
		Str("export_id", state.ExportID).
		Str("file_path", state.ReportedPath).
		Str("raw", obj.Compact()).
		Msg("Export requested")
	return nil
}

// PollExportStep polls the export status until it is done.
type PollExportStep struct{ *env }

func (s *PollExportStep) Name() string { return "poll_export" }

func (s *PollExportStep) Execute(ctx context.Context, state *State) error {
	attempts := s.cfg.PollAttempts
	for i := 0; i < attempts; i++ {
		state.PollAttempts = i + 1

		res := s.api.ExportStatus(ctx, state.ExportID)
		s.echo("poll", res, i)

		if res.StatusCode == http.StatusOK {
			obj, err := jsonkeys.Decode(res.Body)
			if err != nil {
				return fail(s.Name(), KindPayload, "invalid export status response", err)
			}
			state.lastPoll = obj
			state.ExportStatus, _ = obj.String("status", "Status")

			switch {
			case strings.EqualFold(state.ExportStatus, "done"):
				return nil
			case strings.EqualFold(state.ExportStatus, "error"):
				return fail(s.Name(), KindExportError, "export errored", nil)
			}
		}

		if i < attempts-1 {
			if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
				return fail(s.Name(), KindCanceled, "interrupted while polling", err)
			}
		}
	}
	return fail(s.Name(), KindTimeout, fmt.Sprintf("export not finished in time (%d attempts)", attempts), nil)
}

// ValidateArtifactStep checks the export file exists and prints its head.
type ValidateArtifactStep struct{ *env }

func (s *ValidateArtifactStep) Name() string { return "validate_artifact" }

func (s *ValidateArtifactStep) Execute(ctx context.Context, state *State) error {
	filePath := ""
	if state.lastPoll != nil {
		filePath, _ = state.lastPoll.String("file_path", "FilePath", "filePath")
	}
	if filePath == "" {
		filePath = state.ReportedPath
	}
	state.FilePath = filePath

	s.log.Info().Str("file_path", filePath).Msg("File path reported")
	if filePath == "" {
		return fail(s.Name(), KindArtifactMissing, "no file_path", nil)
	}

	a, err := s.locator.Locate(ctx, filePath)
	if err != nil {
		return fail(s.Name(), KindArtifactMissing, "export file not found", err)
	}
	state.Artifact = a

	preview, err := a.Preview(s.cfg.PreviewBytes)
	if err != nil {
		return fail(s.Name(), KindArtifactMissing, "export file unreadable", err)
	}

	s.log.Info().Str("path", a.Path).Str("source", string(a.Source)).Msg("File exists")
	fmt.Fprintf(s.out, "--- file content (first %d bytes) ---\n%s\n", s.cfg.PreviewBytes, preview)
	return nil
}

// CheckCSVStep looks for the smoke transaction inside the export.
type CheckCSVStep struct{ *env }

func (s *CheckCSVStep) Name() string { return "check_csv" }

func (s *CheckCSVStep) Execute(ctx context.Context, state *State) error {
	rc, err := state.Artifact.Open()
	if err != nil {
		return fail(s.Name(), KindArtifactMissing, "export file unreadable", err)
	}
	defer rc.Close()

	report, err := artifact.CheckCSV(rc, artifact.Expectation{
		AccountID:   state.AccountID.String(),
		AmountMinor: s.cfg.AmountMinor,
		Currency:    s.cfg.Currency,
		Note:        s.cfg.Note,
	})
	if err != nil {
		if s.cfg.StrictCSV {
			return fail(s.Name(), KindPayload, "export is not a valid ledger CSV", err)
		}
		s.log.Warn().Err(err).Msg("Export is not a valid ledger CSV")
		return nil
	}
	state.CSV = &report

	s.log.Info().
		Int("rows", report.Rows).
		Int("matched", report.Matched).
		Str("total", report.Total(s.cfg.Currency)).
		Str("currency", s.cfg.Currency).
		Msg("Export CSV checked")

	if report.Matched == 0 {
		if s.cfg.StrictCSV {
			return fail(s.Name(), KindPayload, "export has no row for the smoke transaction", nil)
		}
		s.log.Warn().Msg("Export has no row for the smoke transaction")
	}
	return nil
}

// DownloadStep fetches the export through the download endpoint.
type DownloadStep struct{ *env }

func (s *DownloadStep) Name() string { return "download_export" }

func (s *DownloadStep) Execute(ctx context.Context, state *State) error {
	res := s.api.DownloadExport(ctx, state.Token, state.ExportID)
	s.log.Info().
		Str("status", res.StatusText()).
		Int("bytes", len(res.Body)).
		Msg("download")

	if res.StatusCode != http.StatusOK {
		return responseFailure(s.Name(), "download export failed", res)
	}
	if len(res.Body) == 0 {
		return fail(s.Name(), KindPayload, "download returned an empty body", nil)
	}
	return nil
}

// ArchiveStep copies the artifact to Cloud Storage.
type ArchiveStep struct{ *env }

func (s *ArchiveStep) Name() string { return "archive_artifact" }

func (s *ArchiveStep) Execute(ctx context.Context, state *State) error {
	rc, err := state.Artifact.Open()
	if err != nil {
		return fail(s.Name(), KindArtifactMissing, "export file unreadable", err)
	}
	defer rc.Close()

	bucket := s.cfg.ArchiveBucket
	object := path.Join("smoke", state.RunID, artifact.BaseName(state.Artifact.Path))
	if err := s.uploader.Upload(ctx, bucket, object, rc); err != nil {
		return fail(s.Name(), KindStorage, "archive upload failed", err)
	}

	state.Archived = fmt.Sprintf("gs://%s/%s", bucket, object)
	s.log.Info().Str("uri", state.Archived).Msg("Artifact archived")
	return nil
}
