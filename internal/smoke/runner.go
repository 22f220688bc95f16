// Package smoke drives the end-to-end ledger scenario: register or log in,
// create an account and a transaction, request an export, poll it to
// completion and validate the exported file.
package smoke

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ledgerx-smoke/internal/config"
	"github.com/dvloznov/ledgerx-smoke/internal/ledgerclient"
)

// Deps are the collaborators a Runner needs. Only API and Locator are required.
type Deps struct {
	API      LedgerAPI
	Locator  ArtifactLocator
	Uploader Uploader  // used when archive_bucket is set
	Out      io.Writer // file previews; os.Stdout when nil
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
}

// env is shared by every step of one runner.
type env struct {
	cfg      *config.Config
	api      LedgerAPI
	locator  ArtifactLocator
	uploader Uploader
	out      io.Writer
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	log      zerolog.Logger
}

// echo logs a request/response pair. attempt < 0 means the call is not retried.
func (e *env) echo(label string, res ledgerclient.Result, attempt int) {
	ev := e.log.Info().Str("status", res.StatusText()).Str("body", res.Body)
	if attempt >= 0 {
		ev = ev.Int("attempt", attempt)
	}
	ev.Msg(label)
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Steps returns the step names in execution order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Execute runs all steps sequentially and stops at the first failure.
func (p *Pipeline) Execute(ctx context.Context, state *State) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return fail(step.Name(), KindCanceled, "run canceled", err)
		}
		if err := step.Execute(ctx, state); err != nil {
			if _, ok := AsStepError(err); ok {
				return err
			}
			return fmt.Errorf("smoke step %d (%s) failed: %w", i+1, step.Name(), err)
		}
	}
	return nil
}

// Report is the outcome of one run.
type Report struct {
	RunID      string
	BaseURL    string
	StartedAt  time.Time
	FinishedAt time.Time
	State      *State
	Err        error
}

// OK reports whether every step passed.
func (r *Report) OK() bool {
	return r.Err == nil
}

// Failure returns the failing step and kind, or empty strings on success.
func (r *Report) Failure() (step string, kind Kind) {
	if se, ok := AsStepError(r.Err); ok {
		return se.Step, se.Kind
	}
	return "", ""
}

// Runner runs the smoke scenario.
type Runner struct {
	env     *env
	runID   string
	baseURL string
	steps   *Pipeline
}

// NewRunner builds the scenario for cfg. Optional steps are included
// according to cfg: health wait, CSV check, download check, archive upload.
func NewRunner(cfg *config.Config, deps Deps, runID string, log zerolog.Logger) *Runner {
	if runID == "" {
		runID = uuid.NewString()
	}
	e := &env{
		cfg:      cfg,
		api:      deps.API,
		locator:  deps.Locator,
		uploader: deps.Uploader,
		out:      deps.Out,
		now:      deps.Now,
		sleep:    deps.Sleep,
		log:      log,
	}
	if e.out == nil {
		e.out = os.Stdout
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.sleep == nil {
		e.sleep = sleepContext
	}

	var steps []Step
	if cfg.HealthAttempts > 0 {
		steps = append(steps, &WaitHealthyStep{e})
	}
	steps = append(steps,
		&RegisterStep{e},
		&ExtractTokenStep{e},
		&CreateAccountStep{e},
		&CreateTransactionStep{e},
		&RequestExportStep{e},
		&PollExportStep{e},
		&ValidateArtifactStep{e},
	)
	if cfg.VerifyCSV {
		steps = append(steps, &CheckCSVStep{e})
	}
	if cfg.CheckDownload {
		steps = append(steps, &DownloadStep{e})
	}
	if cfg.ArchiveBucket != "" && deps.Uploader != nil {
		steps = append(steps, &ArchiveStep{e})
	}

	return &Runner{
		env:     e,
		runID:   runID,
		baseURL: cfg.BaseURL,
		steps:   NewPipeline(steps...),
	}
}

// RunID identifies this runner's run.
func (r *Runner) RunID() string {
	return r.runID
}

// Steps returns the names of the steps the runner will execute.
func (r *Runner) Steps() []string {
	return r.steps.Steps()
}

// Run executes the scenario once. The returned report is never nil; its Err
// is the first failure.
func (r *Runner) Run(ctx context.Context) *Report {
	state := &State{RunID: r.runID, StartedAt: r.env.now()}
	report := &Report{RunID: r.runID, BaseURL: r.baseURL, StartedAt: state.StartedAt, State: state}

	r.env.log.Info().
		Str("base_url", r.baseURL).
		Strs("steps", r.steps.Steps()).
		Msg("Starting smoke run")

	report.Err = r.steps.Execute(ctx, state)
	report.FinishedAt = r.env.now()

	if report.Err != nil {
		step, kind := report.Failure()
		r.env.log.Error().
			Err(report.Err).
			Str("step", step).
			Str("kind", string(kind)).
			Msg("Smoke run failed")
		return report
	}

	r.env.log.Info().
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Str("export_id", state.ExportID).
		Msg("Smoke run passed")
	return report
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil || d <= 0 {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
