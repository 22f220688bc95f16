package artifact

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ExportColumns is the header the ledger writes on monthly CSV exports.
var ExportColumns = []string{"id", "account_id", "category_id", "amount_minor", "currency", "occurred_at", "note"}

// Expectation describes the transaction the smoke run recorded.
type Expectation struct {
	AccountID   string
	AmountMinor int64
	Currency    string
	Note        string
}

// CSVReport summarises an export file.
type CSVReport struct {
	Rows    int
	Matched int
	// Totals holds the sum of amounts per currency in major units.
	Totals map[string]decimal.Decimal
}

// Total renders the total for currency with two decimals.
func (r CSVReport) Total(currency string) string {
	return r.Totals[currency].StringFixed(2)
}

// CheckCSV reads an export and counts rows matching want.
func CheckCSV(r io.Reader, want Expectation) (CSVReport, error) {
	report := CSVReport{Totals: map[string]decimal.Decimal{}}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return report, fmt.Errorf("export is empty")
	}
	if err != nil {
		return report, fmt.Errorf("read export header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, col := range []string{"account_id", "amount_minor", "currency"} {
		if _, ok := idx[col]; !ok {
			return report, fmt.Errorf("export header missing %q column: %v", col, header)
		}
	}

	field := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report, fmt.Errorf("read export row %d: %w", report.Rows+1, err)
		}
		report.Rows++

		minor, err := strconv.ParseInt(field(rec, "amount_minor"), 10, 64)
		if err != nil {
			return report, fmt.Errorf("export row %d: invalid amount_minor %q", report.Rows, field(rec, "amount_minor"))
		}
		currency := field(rec, "currency")
		report.Totals[currency] = report.Totals[currency].Add(decimal.New(minor, -2))

		if field(rec, "account_id") != want.AccountID || minor != want.AmountMinor {
			continue
		}
		if want.Currency != "" && currency != want.Currency {
			continue
		}
		if want.Note != "" {
			if _, ok := idx["note"]; ok && field(rec, "note") != want.Note {
				continue
			}
		}
		report.Matched++
	}

	return report, nil
}
