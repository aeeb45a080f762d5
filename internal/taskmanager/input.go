package taskmanager

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Input selects what the worker searches with: a CV file or a list of
// companies. Exactly one of the two must be set.
type Input struct {
	CVPath    string
	Companies []string
}

// Mode returns "cv" or "companies" depending on which field is set.
func (in Input) Mode() string {
	if in.CVPath != "" {
		return "cv"
	}

	return "companies"
}

// Normalize validates in and returns a copy with the CV path made absolute
// and company names trimmed. Errors wrap ErrInvalidInput.
func (in Input) Normalize() (Input, error) {
	switch {
	case in.CVPath != "" && len(in.Companies) > 0:
		return Input{}, fmt.Errorf("%w: cv path and companies are mutually exclusive", ErrInvalidInput)

	case in.CVPath != "":
		path, err := filepath.Abs(in.CVPath)
		if err != nil {
			return Input{}, fmt.Errorf("%w: resolve cv path: %v", ErrInvalidInput, err)
		}

		info, err := os.Stat(path)
		if err != nil {
			return Input{}, fmt.Errorf("%w: cv file %s: %v", ErrInvalidInput, in.CVPath, err)
		}

		if !info.Mode().IsRegular() {
			return Input{}, fmt.Errorf("%w: cv path %s is not a regular file", ErrInvalidInput, in.CVPath)
		}

		return Input{CVPath: path}, nil

	case len(in.Companies) > 0:
		companies := make([]string, 0, len(in.Companies))

		for i, c := range in.Companies {
			c = strings.TrimSpace(c)

			if c == "" {
				return Input{}, fmt.Errorf("%w: company %d is blank", ErrInvalidInput, i)
			}

			// Companies are passed to the worker as one comma-separated argument.
			if strings.Contains(c, ",") {
				return Input{}, fmt.Errorf("%w: company %q contains a comma", ErrInvalidInput, c)
			}

			companies = append(companies, c)
		}

		return Input{Companies: companies}, nil

	default:
		return Input{}, fmt.Errorf("%w: one of cv path or companies is required", ErrInvalidInput)
	}
}

// Args returns the worker arguments selecting the input mode.
func (in Input) Args() []string {
	if in.CVPath != "" {
		return []string{"--cv", in.CVPath}
	}

	return []string{"--companies", strings.Join(in.Companies, ",")}
}

func (in Input) clone() Input {
	return Input{CVPath: in.CVPath, Companies: slices.Clone(in.Companies)}
}
