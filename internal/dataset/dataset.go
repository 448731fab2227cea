// Package dataset reads labelled applicant CSV files for offline evaluation.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultTarget is the label column written by the training pipeline.
const DefaultTarget = "default"

// Example is one labelled applicant. Label is 1 for a default.
type Example struct {
	Line      int
	Applicant domain.ApplicantRecord
	Label     int
}

// Column names of an applicant CSV, matched case-insensitively.
var columns = []string{
	domain.FieldIncome,
	domain.FieldLoanAmount,
	domain.FieldLoanDurationMonths,
	domain.FieldAge,
	domain.FieldEmploymentType,
	domain.FieldCreditScore,
	domain.FieldPreviousDefaults,
}

// ReadFile reads labelled applicants from the CSV file at path.
func ReadFile(path, target string) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f, target)
}

// Read parses a CSV with a header row holding the applicant columns and the
// target column. Extra columns are ignored. A malformed row fails the read
// with its line number.
func Read(r io.Reader, target string) ([]Example, error) {
	if target == "" {
		target = DefaultTarget
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	var missing []string
	for _, col := range append(slices.Clone(columns), strings.ToLower(target)) {
		if _, ok := colIndex[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", domain.ErrSchemaMismatch, strings.Join(missing, ", "))
	}

	var examples []Example
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)

		p := rowParser{record: record, colIndex: colIndex}
		ex := Example{
			Line: line,
			Applicant: domain.ApplicantRecord{
				Income:             p.float(domain.FieldIncome),
				LoanAmount:         p.float(domain.FieldLoanAmount),
				LoanDurationMonths: p.int(domain.FieldLoanDurationMonths),
				Age:                p.int(domain.FieldAge),
				EmploymentType:     domain.EmploymentType(p.str(domain.FieldEmploymentType)),
				CreditScore:        p.int(domain.FieldCreditScore),
				PreviousDefaults:   p.int(domain.FieldPreviousDefaults),
			},
			Label: p.label(strings.ToLower(target)),
		}
		if p.err != nil {
			return nil, fmt.Errorf("line %d: %w", line, p.err)
		}
		examples = append(examples, ex)
	}

	return examples, nil
}

// rowParser keeps the first conversion error of a row.
type rowParser struct {
	record   []string
	colIndex map[string]int
	err      error
}

func (p *rowParser) str(col string) string {
	return strings.TrimSpace(p.record[p.colIndex[col]])
}

func (p *rowParser) float(col string) float64 {
	v, err := strconv.ParseFloat(p.str(col), 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("column %s: %w", col, err)
	}
	return v
}

func (p *rowParser) int(col string) int {
	// Exported data sometimes writes integers as 36.0.
	v := p.float(col)
	if p.err == nil && v != float64(int(v)) {
		p.err = fmt.Errorf("column %s: %v is not an integer", col, v)
	}
	return int(v)
}

func (p *rowParser) label(col string) int {
	switch strings.ToLower(p.str(col)) {
	case "1", "1.0", "true", "yes":
		return 1
	case "0", "0.0", "false", "no":
		return 0
	}
	if p.err == nil {
		p.err = fmt.Errorf("column %s: label %q is not 0 or 1", col, p.str(col))
	}
	return 0
}
