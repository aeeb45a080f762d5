package v1

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/nixpig/jobsearch/internal/results"
	"github.com/nixpig/jobsearch/internal/taskmanager/output"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// StartRequest asks for a search driven by either a CV or a list of
// companies, never both.
type StartRequest struct {
	CVPath    string   `json:"cv_path,omitempty" validate:"required_without=Companies,excluded_with=Companies"`
	Companies []string `json:"companies,omitempty" validate:"omitempty,dive,required"`
}

// Validate checks the shape of the request. Whether the CV exists is only
// known to the server.
func (r StartRequest) Validate() error {
	return validate.Struct(r)
}

// TaskStatus is a Task as reported to clients.
type TaskStatus struct {
	TaskID       string        `json:"task_id" yaml:"task_id"`
	Status       string        `json:"status" yaml:"status"`
	Mode         string        `json:"mode" yaml:"mode"`
	CVPath       string        `json:"cv_path,omitempty" yaml:"cv_path,omitempty"`
	Companies    []string      `json:"companies,omitempty" yaml:"companies,omitempty"`
	Logs         []LogLine     `json:"logs" yaml:"logs"`
	Jobs         []results.Job `json:"jobs" yaml:"jobs"`
	Error        string        `json:"error,omitempty" yaml:"error,omitempty"`
	ResultsError string        `json:"results_error,omitempty" yaml:"results_error,omitempty"`
	ExitCode     int           `json:"exit_code" yaml:"exit_code"`
	CreatedAt    time.Time     `json:"created_at" yaml:"created_at"`
	EndedAt      *time.Time    `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
}

// LogLine is a single line of worker output.
type LogLine struct {
	Stream string    `json:"stream" yaml:"stream"`
	Text   string    `json:"text" yaml:"text"`
	Time   time.Time `json:"time" yaml:"time"`
}

// String renders the line as it appears in a Task's log, e.g. "[ERROR] boom".
func (l LogLine) String() string {
	return output.Line{Stream: output.Stream(l.Stream), Text: l.Text}.String()
}

// Message is any value carried as a Struct on the wire.
type Message interface {
	StartRequest | TaskStatus | LogLine
}

// Encode converts v to its wire form.
func Encode[T Message](v T) (*structpb.Struct, error) {
	b, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}

	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("convert %T to struct: %w", v, err)
	}

	return s, nil
}

// Decode converts a wire Struct back to a T. A nil Struct decodes to the zero
// value.
func Decode[T Message](s *structpb.Struct) (*T, error) {
	v := new(T)

	if s == nil {
		return v, nil
	}

	b, err := protojson.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("convert struct to json: %w", err)
	}

	if err := sonic.Unmarshal(b, v); err != nil {
		return nil, fmt.Errorf("unmarshal %T: %w", *v, err)
	}

	return v, nil
}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}
