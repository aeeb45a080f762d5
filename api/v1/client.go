package v1

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client is a typed TaskService client.
type Client struct {
	rpc TaskServiceClient
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{rpc: NewTaskServiceClient(cc)}
}

// StartTask starts a search and returns the new Task's ID.
func (c *Client) StartTask(ctx context.Context, req StartRequest) (string, error) {
	in, err := Encode(req)
	if err != nil {
		return "", err
	}

	id, err := c.rpc.StartTask(ctx, in)
	if err != nil {
		return "", err
	}

	return id.GetValue(), nil
}

func (c *Client) QueryTask(ctx context.Context, id string) (*TaskStatus, error) {
	out, err := c.rpc.QueryTask(ctx, wrapperspb.String(id))
	if err != nil {
		return nil, err
	}

	return Decode[TaskStatus](out)
}

func (c *Client) RemoveTask(ctx context.Context, id string) error {
	_, err := c.rpc.RemoveTask(ctx, wrapperspb.String(id))
	return err
}

// WatchTask streams the log of a Task from its first line until it finishes.
func (c *Client) WatchTask(ctx context.Context, id string) (*LogStream, error) {
	stream, err := c.rpc.WatchTask(ctx, wrapperspb.String(id))
	if err != nil {
		return nil, err
	}

	return &LogStream{stream: stream}, nil
}

// LogStream receives the lines of a watched Task.
type LogStream struct {
	stream grpc.ServerStreamingClient[structpb.Struct]
}

// Recv returns the next line, or io.EOF once the Task has finished and every
// line has been received.
func (s *LogStream) Recv() (*LogLine, error) {
	msg, err := s.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}

		return nil, err
	}

	return Decode[LogLine](msg)
}
