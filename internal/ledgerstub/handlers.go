package ledgerstub

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dvloznov/ledgerx-smoke/internal/api/middleware"
	"github.com/dvloznov/ledgerx-smoke/internal/jobs"
)

// pascalKeys maps the snake_case field names to the names raw database
// rows carry.
var pascalKeys = map[string]string{
	"id":           "ID",
	"user_id":      "UserID",
	"name":         "Name",
	"currency":     "Currency",
	"active":       "IsActive",
	"account_id":   "AccountID",
	"amount_minor": "AmountMinor",
	"occurred_at":  "OccurredAt",
	"note":         "Note",
	"month":        "Month",
	"status":       "Status",
	"file_path":    "FilePath",
	"created_at":   "CreatedAt",
}

// object renders fields, given as snake_case key/value pairs, in the
// configured key style.
func (s *Server) object(pairs ...any) map[string]any {
	out := make(map[string]any, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key := pairs[i].(string)
		if s.opts.KeyStyle == KeyStylePascal {
			if k, ok := pascalKeys[key]; ok {
				key = k
			}
		}
		out[key] = pairs[i+1]
	}
	return out
}

func (s *Server) filePathValue(p string) any {
	if s.opts.NullableFilePath {
		return map[string]any{"String": p, "Valid": p != ""}
	}
	if p == "" {
		return nil
	}
	return p
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   int64  `json:"user_id"`
		Name     string `json:"name"`
		Currency string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UserID == 0 || req.Name == "" {
		http.Error(w, "user_id and name required", http.StatusUnprocessableEntity)
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	s.mu.Lock()
	a := &account{ID: s.id("account"), UserID: req.UserID, Name: req.Name, Currency: req.Currency, Active: true}
	s.accounts[a.ID] = a
	s.mu.Unlock()

	middleware.WriteJSON(w, http.StatusCreated, s.object(
		"id", a.ID,
		"user_id", a.UserID,
		"name", a.Name,
		"currency", a.Currency,
		"active", a.Active,
	))
}

func (s *Server) createTransaction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID      int64     `json:"user_id"`
		AccountID   int64     `json:"account_id"`
		AmountMinor int64     `json:"amount_minor"`
		Currency    string    `json:"currency"`
		OccurredAt  time.Time `json:"occurred_at"`
		Note        string    `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if _, ok := s.accounts[body.AccountID]; !ok {
		s.mu.Unlock()
		http.Error(w, "account not found", http.StatusInternalServerError)
		return
	}
	tx := &transaction{
		ID:          s.id("transaction"),
		UserID:      body.UserID,
		AccountID:   body.AccountID,
		AmountMinor: body.AmountMinor,
		Currency:    body.Currency,
		OccurredAt:  body.OccurredAt.UTC(),
		Note:        body.Note,
	}
	s.transactions = append(s.transactions, tx)
	s.mu.Unlock()

	middleware.WriteJSON(w, http.StatusOK, s.object(
		"id", tx.ID,
		"user_id", tx.UserID,
		"account_id", tx.AccountID,
		"amount_minor", tx.AmountMinor,
		"currency", tx.Currency,
		"occurred_at", tx.OccurredAt.Format(time.RFC3339),
		"note", tx.Note,
	))
}

// createExport accepts an optional bearer token; without one the export
// belongs to user 1.
func (s *Server) createExport(w http.ResponseWriter, r *http.Request) {
	monthStr := r.URL.Query().Get("month")
	if monthStr == "" {
		http.Error(w, "missing month", http.StatusBadRequest)
		return
	}
	month, err := time.Parse("2006-01", monthStr)
	if err != nil {
		http.Error(w, "invalid month", http.StatusBadRequest)
		return
	}

	userID := int64(1)
	if uid, ok := middleware.UserIDFromContext(r.Context()); ok {
		userID = uid
	} else if tok, ok := middleware.BearerToken(r); ok {
		if uid, err := s.verifyToken(tok); err == nil {
			userID = uid
		}
	}

	s.mu.Lock()
	exp := &export{ID: s.id("export"), UserID: userID, Month: month, CreatedAt: s.opts.Now()}
	s.exports[exp.ID] = exp
	s.mu.Unlock()

	job := &jobs.ExportJob{
		ExportID:   exp.ID,
		UserID:     userID,
		Month:      month.Format("2006-01-02"),
		MaxRetries: s.opts.ExportRetries,
	}
	if err := s.queue.PublishExport(r.Context(), job); err != nil {
		s.log.Error().Err(err).Int64("export_id", exp.ID).Msg("Failed to enqueue export")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	exp.JobID = job.JobID
	s.mu.Unlock()

	s.log.Info().
		Int64("export_id", exp.ID).
		Int64("user_id", userID).
		Str("job_id", job.JobID).
		Msg("Export enqueued")

	middleware.WriteJSON(w, http.StatusOK, s.exportObject(exp, jobs.JobStatusPending, ""))
}

func (s *Server) exportStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.statusCalls++
	throttled := s.statusCalls <= s.opts.StatusFailures
	s.mu.Unlock()
	if throttled {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	exp, job, ok := s.lookupExport(r)
	if !ok {
		http.Error(w, "export not found", http.StatusNotFound)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, s.exportObject(exp, publicStatus(job.Status), s.reportedPath(job.FilePath)))
}

func (s *Server) downloadExport(w http.ResponseWriter, r *http.Request) {
	_, job, ok := s.lookupExport(r)
	if !ok {
		http.Error(w, "export not found", http.StatusNotFound)
		return
	}
	if job.Status != jobs.JobStatusDone || job.FilePath == "" {
		http.Error(w, "not ready", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	http.ServeFile(w, r, job.FilePath)
}

func (s *Server) lookupExport(r *http.Request) (*export, *jobs.ExportJob, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return nil, nil, false
	}

	s.mu.Lock()
	exp, ok := s.exports[id]
	var snapshot export
	if ok {
		snapshot = *exp
	}
	s.mu.Unlock()
	if !ok || snapshot.JobID == "" {
		return nil, nil, false
	}

	job, err := s.store.GetJob(r.Context(), snapshot.JobID)
	if err != nil {
		return nil, nil, false
	}
	return &snapshot, job, true
}

func (s *Server) exportObject(exp *export, status jobs.JobStatus, filePath string) map[string]any {
	return s.object(
		"id", exp.ID,
		"user_id", exp.UserID,
		"month", exp.Month.Format("2006-01-02"),
		"status", string(status),
		"file_path", s.filePathValue(filePath),
		"created_at", exp.CreatedAt.UTC().Format(time.RFC3339),
	)
}

// reportedPath is the path the API advertises for a written file.
func (s *Server) reportedPath(actual string) string {
	if actual == "" || s.opts.ReportDir == "" {
		return actual
	}
	return filepath.ToSlash(filepath.Join(s.opts.ReportDir, filepath.Base(actual)))
}

// publicStatus folds the queue's internal states into pending/done/error.
func publicStatus(st jobs.JobStatus) jobs.JobStatus {
	switch st {
	case jobs.JobStatusDone, jobs.JobStatusError:
		return st
	default:
		return jobs.JobStatusPending
	}
}
