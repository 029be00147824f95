package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/imagvfx/jobq"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client talks to a Server.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a Server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.Dial(addr, grpc.WithInsecure(), grpc.WithTimeout(time.Second))
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient creates a Client over conn.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, name string, in, out interface{}) error {
	err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+name, in, out)
	if err != nil {
		return fromStatus(err)
	}
	return nil
}

// Submit submits a job and returns its id.
func (c *Client) Submit(ctx context.Context, sub Submission) (string, error) {
	in, err := toStruct(sub)
	if err != nil {
		return "", err
	}
	out := &wrapperspb.StringValue{}
	if err := c.invoke(ctx, "Submit", in, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// Status returns information of a job or a process.
func (c *Client) Status(ctx context.Context, id string) (JobInfo, error) {
	out := &structpb.Struct{}
	if err := c.invoke(ctx, "Status", wrapperspb.String(id), out); err != nil {
		return JobInfo{}, err
	}
	info := JobInfo{}
	err := fromStruct(out, &info)
	return info, err
}

// Cancel stops a job or a process.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.invoke(ctx, "Cancel", wrapperspb.String(id), &emptypb.Empty{})
}

// CancelAll stops every unfinished job.
func (c *Client) CancelAll(ctx context.Context) error {
	return c.invoke(ctx, "CancelAll", &emptypb.Empty{}, &emptypb.Empty{})
}

// Remove removes a finished job or process.
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.invoke(ctx, "Remove", wrapperspb.String(id), &emptypb.Empty{})
}

// Log returns the log of a job or a process.
func (c *Client) Log(ctx context.Context, id string) (string, error) {
	out := &wrapperspb.StringValue{}
	if err := c.invoke(ctx, "Log", wrapperspb.String(id), out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// List returns queued jobs, from the highest priority.
func (c *Client) List(ctx context.Context) ([]JobInfo, error) {
	out := &structpb.Struct{}
	if err := c.invoke(ctx, "List", &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	l := jobList{}
	if err := fromStruct(out, &l); err != nil {
		return nil, err
	}
	return l.Jobs, nil
}

// Alias lets a job or a process be addressed by virtual.
func (c *Client) Alias(ctx context.Context, virtual, real string) error {
	in, err := toStruct(aliasRequest{Virtual: virtual, Real: real})
	if err != nil {
		return err
	}
	return c.invoke(ctx, "Alias", in, &emptypb.Empty{})
}

// RegisterProcess registers queued jobs as a process.
func (c *Client) RegisterProcess(ctx context.Context, id string, jobIDs ...string) error {
	in, err := toStruct(processRequest{ID: id, Jobs: jobIDs})
	if err != nil {
		return err
	}
	return c.invoke(ctx, "RegisterProcess", in, &emptypb.Empty{})
}

// Run starts queued jobs in priority order.
func (c *Client) Run(ctx context.Context) error {
	return c.invoke(ctx, "Run", &emptypb.Empty{}, &emptypb.Empty{})
}

// sentinels are engine errors that survive the trip over gRPC.
var sentinels = []error{
	jobq.ErrNotFound,
	jobq.ErrDuplicateID,
	jobq.ErrAlreadyQueued,
	jobq.ErrJobNotFinished,
	jobq.ErrJobStarted,
	jobq.ErrEmptyJob,
	jobq.ErrInvalidMaster,
	jobq.ErrInvalidPriority,
}

// fromStatus converts a gRPC status error back to an engine error,
// so it could be checked with errors.Is.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.Unavailable {
		return err
	}
	msg := st.Message()
	for _, e := range sentinels {
		if strings.HasPrefix(msg, e.Error()) {
			return fmt.Errorf("%w%s", e, strings.TrimPrefix(msg, e.Error()))
		}
	}
	return errors.New(msg)
}
