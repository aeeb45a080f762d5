// Package results reads the job listings a worker writes to its artifact
// file.
package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Columns is the column order of the artifact.
var Columns = []string{"title", "company", "link", "salary", "location"}

var ErrMalformedRow = errors.New("malformed row")

// MalformedRowError reports a row with fewer columns than Columns.
type MalformedRowError struct {
	Line    int
	Columns int
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf(
		"%s: line %d has %d columns, want at least %d",
		ErrMalformedRow,
		e.Line,
		e.Columns,
		len(Columns),
	)
}

func (e *MalformedRowError) Unwrap() error {
	return ErrMalformedRow
}

// Job is a single job listing.
type Job struct {
	Title    string `json:"title" yaml:"title"`
	Company  string `json:"company" yaml:"company"`
	Link     string `json:"link" yaml:"link"`
	Salary   string `json:"salary" yaml:"salary"`
	Location string `json:"location" yaml:"location"`
}

// ReadFile reads the artifact at path. A missing file is not an error: the
// worker found nothing, so an empty slice is returned.
func ReadFile(path string) ([]Job, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Job{}, nil
		}

		return nil, fmt.Errorf("open results: %w", err)
	}
	defer f.Close()

	return Read(f)
}

// Read parses artifact rows from r. A first row naming the columns is
// skipped. Any row with fewer than len(Columns) fields fails the whole read
// with a *MalformedRowError; extra fields are ignored.
func Read(r io.Reader) ([]Job, error) {
	cr := csv.NewReader(r)
	// Row width is checked here rather than by csv.Reader so short rows get a
	// MalformedRowError.
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	jobs := []Job{}

	for first := true; ; first = false {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return jobs, nil
		}

		if err != nil {
			return nil, fmt.Errorf("parse results: %w", err)
		}

		if first && isHeader(record) {
			continue
		}

		if len(record) < len(Columns) {
			line, _ := cr.FieldPos(0)
			return nil, &MalformedRowError{Line: line, Columns: len(record)}
		}

		jobs = append(jobs, Job{
			Title:    strings.TrimSpace(record[0]),
			Company:  strings.TrimSpace(record[1]),
			Link:     strings.TrimSpace(record[2]),
			Salary:   strings.TrimSpace(record[3]),
			Location: strings.TrimSpace(record[4]),
		})
	}
}

func isHeader(record []string) bool {
	if len(record) < len(Columns) {
		return false
	}

	for i, name := range Columns {
		if !strings.EqualFold(strings.TrimSpace(record[i]), name) {
			return false
		}
	}

	return true
}
