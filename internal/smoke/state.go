package smoke

import (
	"time"

	"github.com/dvloznov/ledgerx-smoke/internal/artifact"
	"github.com/dvloznov/ledgerx-smoke/internal/jsonkeys"
	"github.com/dvloznov/ledgerx-smoke/internal/ledgerclient"
)

// State holds what each step hands to the next. It lives for one run.
type State struct {
	RunID     string
	StartedAt time.Time

	Email    string
	Password string
	authBody string

	Token  string
	UserID int64

	AccountID ledgerclient.ID

	Month        string
	ExportID     string
	ReportedPath string // file path returned when the export was requested

	ExportStatus string
	PollAttempts int
	lastPoll     jsonkeys.Object

	FilePath string
	Artifact *artifact.Artifact
	CSV      *artifact.CSVReport
	Archived string // gs:// URI of the archived copy
}
