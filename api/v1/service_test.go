package v1_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	api "github.com/nixpig/jobsearch/api/v1"
	"github.com/nixpig/jobsearch/internal/results"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type fakeServer struct {
	api.UnimplementedTaskServiceServer

	started []api.StartRequest
	status  api.TaskStatus
	lines   []api.LogLine
}

func (f *fakeServer) StartTask(
	_ context.Context,
	in *structpb.Struct,
) (*wrapperspb.StringValue, error) {
	req, err := api.Decode[api.StartRequest](in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	f.started = append(f.started, *req)

	return wrapperspb.String("task-1"), nil
}

func (f *fakeServer) QueryTask(
	_ context.Context,
	in *wrapperspb.StringValue,
) (*structpb.Struct, error) {
	if in.GetValue() != f.status.TaskID {
		return nil, status.Error(codes.NotFound, "task not found")
	}

	return api.Encode(f.status)
}

func (f *fakeServer) WatchTask(
	in *wrapperspb.StringValue,
	stream grpc.ServerStreamingServer[structpb.Struct],
) error {
	for _, l := range f.lines {
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

func newTestClient(t *testing.T, srv api.TaskServiceServer) *api.Client {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)

	s := grpc.NewServer()
	api.RegisterTaskServiceServer(s, srv)

	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return api.NewClient(conn)
}

func TestClient(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ended := created.Add(time.Minute)

	srv := &fakeServer{
		status: api.TaskStatus{
			TaskID:    "task-1",
			Status:    "completed",
			Mode:      "companies",
			Companies: []string{"Google"},
			Logs: []api.LogLine{
				{Stream: "stdout", Text: "Searching Google", Time: created},
			},
			Jobs: []results.Job{
				{Title: "SRE", Company: "Google", Link: "https://g.co/sre", Salary: "", Location: "Zurich"},
			},
			ExitCode:  0,
			CreatedAt: created,
			EndedAt:   &ended,
		},
		lines: []api.LogLine{
			{Stream: "stdout", Text: "one", Time: created},
			{Stream: "stderr", Text: "two", Time: created},
		},
	}

	client := newTestClient(t, srv)

	t.Run("start task", func(t *testing.T) {
		id, err := client.StartTask(t.Context(), api.StartRequest{Companies: []string{"Google", "Meta"}})
		require.NoError(t, err)
		require.Equal(t, "task-1", id)
		require.Equal(t, []api.StartRequest{{Companies: []string{"Google", "Meta"}}}, srv.started)
	})

	t.Run("query task", func(t *testing.T) {
		got, err := client.QueryTask(t.Context(), "task-1")
		require.NoError(t, err)
		require.Equal(t, srv.status.Jobs, got.Jobs)
		require.Equal(t, srv.status.Logs, got.Logs)
		require.True(t, got.CreatedAt.Equal(created))
		require.NotNil(t, got.EndedAt)
		require.True(t, got.EndedAt.Equal(ended))
	})

	t.Run("query unknown task", func(t *testing.T) {
		_, err := client.QueryTask(t.Context(), "nope")
		require.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("remove task unimplemented", func(t *testing.T) {
		err := client.RemoveTask(t.Context(), "task-1")
		require.Equal(t, codes.Unimplemented, status.Code(err))
	})

	t.Run("watch task", func(t *testing.T) {
		stream, err := client.WatchTask(t.Context(), "task-1")
		require.NoError(t, err)

		var got []string
		for {
			line, err := stream.Recv()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)

			got = append(got, line.String())
		}

		require.Equal(t, []string{"[INFO] one", "[ERROR] two"}, got)
	})
}

func TestServiceDesc(t *testing.T) {
	var _ api.TaskServiceServer = &fakeServer{}

	names := []string{
		api.TaskService_StartTask_FullMethodName,
		api.TaskService_QueryTask_FullMethodName,
		api.TaskService_RemoveTask_FullMethodName,
	}

	for i, m := range api.TaskService_ServiceDesc.Methods {
		require.Equal(t, names[i], "/"+api.ServiceName+"/"+m.MethodName)
	}

	require.Equal(
		t,
		api.TaskService_WatchTask_FullMethodName,
		"/"+api.ServiceName+"/"+api.TaskService_ServiceDesc.Streams[0].StreamName,
	)
}

func TestStartRequestValidate(t *testing.T) {
	scenarios := map[string]struct {
		req   api.StartRequest
		valid bool
	}{
		"cv only":               {api.StartRequest{CVPath: "/tmp/cv.pdf"}, true},
		"companies only":        {api.StartRequest{Companies: []string{"Google"}}, true},
		"neither":               {api.StartRequest{}, false},
		"both":                  {api.StartRequest{CVPath: "/tmp/cv.pdf", Companies: []string{"Google"}}, false},
		"blank company in list": {api.StartRequest{Companies: []string{"Google", ""}}, false},
	}

	for name, sc := range scenarios {
		t.Run(name, func(t *testing.T) {
			err := sc.req.Validate()
			if sc.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestDecodeNil(t *testing.T) {
	got, err := api.Decode[api.TaskStatus](nil)
	require.NoError(t, err)
	require.Equal(t, &api.TaskStatus{}, got)
}
