package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	api "github.com/nixpig/jobsearch/api/v1"
	"github.com/nixpig/jobsearch/internal/results"
	"github.com/nixpig/jobsearch/internal/testpki"
	"github.com/nixpig/jobsearch/internal/tlsconfig"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
	"gopkg.in/yaml.v3"
)

const testTaskID = "9302033c-f8f7-4b6e-9363-a7aa201cce1b"

func testStatus() api.TaskStatus {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ended := created.Add(time.Minute)

	return api.TaskStatus{
		TaskID:    testTaskID,
		Status:    "completed",
		Mode:      "companies",
		Companies: []string{"Google"},
		Logs:      []api.LogLine{{Stream: "stdout", Text: "Searching Google"}},
		Jobs: []results.Job{{
			Title:    "Engineer",
			Company:  "Google",
			Link:     "https://example.com/1",
			Salary:   "100k",
			Location: "Remote",
		}},
		CreatedAt: created,
		EndedAt:   &ended,
	}
}

type fakeTaskServer struct {
	api.UnimplementedTaskServiceServer

	mu      sync.Mutex
	started []api.StartRequest
	removed []string
}

func (f *fakeTaskServer) StartTask(
	_ context.Context,
	in *structpb.Struct,
) (*wrapperspb.StringValue, error) {
	req, err := api.Decode[api.StartRequest](in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	f.mu.Lock()
	f.started = append(f.started, *req)
	f.mu.Unlock()

	return wrapperspb.String(testTaskID), nil
}

func (f *fakeTaskServer) QueryTask(
	_ context.Context,
	in *wrapperspb.StringValue,
) (*structpb.Struct, error) {
	if in.GetValue() != testTaskID {
		return nil, status.Error(codes.NotFound, "task not found")
	}

	return api.Encode(testStatus())
}

func (f *fakeTaskServer) RemoveTask(
	_ context.Context,
	in *wrapperspb.StringValue,
) (*emptypb.Empty, error) {
	if in.GetValue() != testTaskID {
		return nil, status.Error(codes.NotFound, "task not found")
	}

	f.mu.Lock()
	f.removed = append(f.removed, in.GetValue())
	f.mu.Unlock()

	return &emptypb.Empty{}, nil
}

func (f *fakeTaskServer) WatchTask(
	in *wrapperspb.StringValue,
	stream grpc.ServerStreamingServer[structpb.Struct],
) error {
	if in.GetValue() != testTaskID {
		return status.Error(codes.NotFound, "task not found")
	}

	for _, l := range []api.LogLine{
		{Stream: "stdout", Text: "Searching Google"},
		{Stream: "stderr", Text: "rate limited"},
	} {
		msg, err := api.Encode(l)
		if err != nil {
			return err
		}

		if err := stream.Send(msg); err != nil {
			return err
		}
	}

	return nil
}

type testEnv struct {
	pki    *testpki.PKI
	port   string
	server *fakeTaskServer
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	pki := testpki.New(t, testpki.Client{CN: "alice", OU: "operator"})

	tlsConfig, err := tlsconfig.SetupTLS(&tlsconfig.Config{
		CertPath:   pki.ServerCert,
		KeyPath:    pki.ServerKey,
		CACertPath: pki.CACert,
		Server:     true,
	})
	if err != nil {
		t.Fatalf("expected not to get error: got '%v'", err)
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("expected not to get error: got '%v'", err)
	}

	fake := &fakeTaskServer{}

	s := grpc.NewServer(grpc.Creds(credentials.NewTLS(tlsConfig)))
	api.RegisterTaskServiceServer(s, fake)

	go s.Serve(lis)
	t.Cleanup(s.Stop)

	_, port, _ := net.SplitHostPort(lis.Addr().String())

	return &testEnv{pki: pki, port: port, server: fake}
}

func (env *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	client := env.pki.Clients["alice"]

	cliArgs := append([]string{
		"--server-hostname", "127.0.0.1",
		"--server-port", env.port,
		"--cert-path", client.Cert,
		"--key-path", client.Key,
		"--ca-cert-path", env.pki.CACert,
	}, args...)

	var stdout bytes.Buffer

	cmd := newCLI().rootCmd()
	cmd.SetArgs(cliArgs)
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.ExecuteContext(t.Context())

	return stdout.String(), err
}

func TestCLI(t *testing.T) {
	env := setupTestEnv(t)

	t.Run("Test start with companies", func(t *testing.T) {
		out, err := env.run(t, "start", "--companies", "Google,Meta")
		if err != nil {
			t.Fatalf("expected not to get error: got '%v'", err)
		}

		if strings.TrimSpace(out) != testTaskID {
			t.Errorf("expected task id: got '%v', want '%v'", out, testTaskID)
		}

		env.server.mu.Lock()
		got := env.server.started[len(env.server.started)-1]
		env.server.mu.Unlock()

		if strings.Join(got.Companies, ",") != "Google,Meta" {
			t.Errorf("expected companies: got '%v', want 'Google,Meta'", got.Companies)
		}
	})

	t.Run("Test start with cv sends absolute path", func(t *testing.T) {
		if _, err := env.run(t, "start", "--cv", "cv.pdf"); err != nil {
			t.Fatalf("expected not to get error: got '%v'", err)
		}

		env.server.mu.Lock()
		got := env.server.started[len(env.server.started)-1]
		env.server.mu.Unlock()

		wd, _ := os.Getwd()
		want := filepath.Join(wd, "cv.pdf")

		if got.CVPath != want {
			t.Errorf("expected cv path: got '%v', want '%v'", got.CVPath, want)
		}
	})

	t.Run("Test start flags", func(t *testing.T) {
		scenarios := map[string][]string{
			"neither": {"start"},
			"both":    {"start", "--cv", "cv.pdf", "--companies", "Google"},
		}

		for name, args := range scenarios {
			t.Run(name, func(t *testing.T) {
				if _, err := env.run(t, args...); err == nil {
					t.Error("expected to get error")
				}
			})
		}
	})

	t.Run("Test status outputs", func(t *testing.T) {
		out, err := env.run(t, "status", testTaskID)
		if err != nil {
			t.Fatalf("expected not to get error: got '%v'", err)
		}

		for _, want := range []string{"completed", "Engineer", "Remote", "https://example.com/1"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected table output to contain '%v': got '%v'", want, out)
			}
		}

		out, err = env.run(t, "status", testTaskID, "-o", "json")
		if err != nil {
			t.Fatalf("expected not to get error: got '%v'", err)
		}

		var fromJSON api.TaskStatus
		if err := sonic.UnmarshalString(out, &fromJSON); err != nil {
			t.Fatalf("expected valid json: got '%v'", err)
		}

		if fromJSON.Jobs[0].Title != "Engineer" {
			t.Errorf("expected job title: got '%v', want 'Engineer'", fromJSON.Jobs[0].Title)
		}

		out, err = env.run(t, "status", testTaskID, "-o", "yaml")
		if err != nil {
			t.Fatalf("expected not to get error: got '%v'", err)
		}

		var fromYAML api.TaskStatus
		if err := yaml.Unmarshal([]byte(out), &fromYAML); err != nil {
			t.Fatalf("expected valid yaml: got '%v'", err)
		}

		if fromYAML.Status != "completed" {
			t.Errorf("expected status: got '%v', want 'completed'", fromYAML.Status)
		}
	})

	t.Run("Test status unknown format", func(t *testing.T) {
		_, err := env.run(t, "status", testTaskID, "-o", "xml")
		if err == nil || !strings.Contains(err.Error(), "unknown output format") {
			t.Errorf("expected format error: got '%v'", err)
		}
	})

	t.Run("Test status unknown task", func(t *testing.T) {
		_, err := env.run(t, "status", "nope")
		if err == nil || err.Error() != "not found" {
			t.Errorf("expected not found error: got '%v'", err)
		}
	})

	t.Run("Test remove", func(t *testing.T) {
		if _, err := env.run(t, "remove", testTaskID); err != nil {
			t.Fatalf("expected not to get error: got '%v'", err)
		}

		env.server.mu.Lock()
		removed := len(env.server.removed)
		env.server.mu.Unlock()

		if removed != 1 {
			t.Errorf("expected removed tasks: got '%v', want '1'", removed)
		}
	})

	t.Run("Test watch", func(t *testing.T) {
		out, err := env.run(t, "watch", testTaskID)
		if err != nil {
			t.Fatalf("expected not to get error: got '%v'", err)
		}

		want := "[INFO] Searching Google\n[ERROR] rate limited\n"
		if out != want {
			t.Errorf("expected watch output: got '%v', want '%v'", out, want)
		}
	})

	t.Run("Test watch unknown task", func(t *testing.T) {
		_, err := env.run(t, "watch", "nope")
		if err == nil || err.Error() != "not found" {
			t.Errorf("expected not found error: got '%v'", err)
		}
	})
}

func TestMapError(t *testing.T) {
	scenarios := map[string]struct {
		err  error
		want string
	}{
		"not found": {
			err:  status.Error(codes.NotFound, "task not found"),
			want: "not found",
		},
		"permission denied": {
			err:  status.Error(codes.PermissionDenied, "role viewer"),
			want: "permission denied",
		},
		"invalid argument": {
			err:  status.Error(codes.InvalidArgument, "invalid input: company 0 is blank"),
			want: "invalid input: company 0 is blank",
		},
		"unavailable": {
			err:  status.Error(codes.Unavailable, "connection refused"),
			want: "server unavailable",
		},
		"not a status": {
			err:  errors.New("boom"),
			want: "boom",
		},
	}

	for name, data := range scenarios {
		t.Run(name, func(t *testing.T) {
			got := mapError(data.err)
			if got.Error() != data.want {
				t.Errorf("expected error: got '%v', want '%v'", got, data.want)
			}
		})
	}
}

func TestRenderStatusTable(t *testing.T) {
	t.Run("Test failed task shows error", func(t *testing.T) {
		s := testStatus()
		s.Status = "failed"
		s.Error = "worker failure: worker exited with code 1: boom"
		s.ExitCode = 1
		s.Jobs = nil

		var buf bytes.Buffer
		if err := renderStatus(&buf, &s, outputTable); err != nil {
			t.Fatalf("expected not to get error: got '%v'", err)
		}

		if !strings.Contains(buf.String(), "Error: worker failure") {
			t.Errorf("expected error line: got '%v'", buf.String())
		}

		if strings.Contains(buf.String(), "TITLE") {
			t.Errorf("expected no jobs table: got '%v'", buf.String())
		}
	})

	t.Run("Test running task has no end time", func(t *testing.T) {
		s := testStatus()
		s.Status = "running"
		s.EndedAt = nil

		var buf bytes.Buffer
		if err := renderStatus(&buf, &s, outputTable); err != nil {
			t.Fatalf("expected not to get error: got '%v'", err)
		}

		lines := strings.Split(buf.String(), "\n")
		if !strings.HasSuffix(strings.TrimSpace(lines[1]), "-") {
			t.Errorf("expected missing end time: got '%v'", lines[1])
		}
	})
}
