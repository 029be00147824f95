// Package rpc exposes a jobq engine over gRPC.
//
// Messages are well-known protobuf types, so the service needs no
// generated code: requests and replies that carry more than a string are
// Structs converted from the types of this package.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/imagvfx/jobq"
	"github.com/imagvfx/jobq/cmdtask"
	"github.com/imagvfx/jobq/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the full name of the gRPC service.
const ServiceName = "jobq.Queue"

// QueueServer is the server API of the service.
type QueueServer interface {
	Submit(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	Status(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Cancel(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	CancelAll(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Remove(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Log(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	List(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Alias(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	RegisterProcess(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Run(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

// method makes a unary method of the service from a QueueServer method.
func method[Req, Resp any](name string, fn func(QueueServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(QueueServer)
			if interceptor == nil {
				return fn(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return fn(s, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*QueueServer)(nil),
	Methods: []grpc.MethodDesc{
		method("Submit", QueueServer.Submit),
		method("Status", QueueServer.Status),
		method("Cancel", QueueServer.Cancel),
		method("CancelAll", QueueServer.CancelAll),
		method("Remove", QueueServer.Remove),
		method("Log", QueueServer.Log),
		method("List", QueueServer.List),
		method("Alias", QueueServer.Alias),
		method("RegisterProcess", QueueServer.RegisterProcess),
		method("Run", QueueServer.Run),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "jobq/queue",
}

// Register registers srv to s.
func Register(s *grpc.Server, srv QueueServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Server serves an engine's queue.
type Server struct {
	engine *jobq.Engine
	log    logger.Logger

	// WorkFor makes the work of a submitted task.
	// It runs the task's commands by default.
	WorkFor func(t TaskSpec) jobq.WorkFunc

	// Allow limits clients when it isn't empty.
	Allow []AddressMatcher

	mu sync.Mutex
	// ctx is canceled when Serve returns.
	ctx context.Context
}

var _ QueueServer = (*Server)(nil)

// NewServer creates a new Server.
func NewServer(e *jobq.Engine, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		engine: e,
		log:    log,
		WorkFor: func(t TaskSpec) jobq.WorkFunc {
			return cmdtask.Work(t.Cmds...)
		},
		ctx: context.Background(),
	}
}

// Serve serves on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	opts := []grpc.ServerOption{}
	if len(s.Allow) != 0 {
		opts = append(opts, grpc.UnaryInterceptor(allowFrom(s.Allow, s.log)))
	}
	g := grpc.NewServer(opts...)
	Register(g, s)
	go func() {
		<-ctx.Done()
		g.GracefulStop()
	}()
	s.log.Info("rpc: serving at %v", lis.Addr())
	return g.Serve(lis)
}

func (s *Server) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Submit creates a job from a Submission and queues it.
func (s *Server) Submit(ctx context.Context, in *structpb.Struct) (*wrapperspb.StringValue, error) {
	sub := Submission{}
	if err := fromStruct(in, &sub); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if len(sub.Tasks) == 0 {
		return nil, toStatus(fmt.Errorf("%w: submission has no task", jobq.ErrEmptyJob))
	}
	q := s.engine.Queue
	var j *jobq.Job
	if sub.ID != "" {
		j = s.engine.NewJobWithID(sub.ID, sub.Threads)
	} else {
		j = s.engine.NewJob(sub.Prefix, sub.Threads)
	}
	for i, t := range sub.Tasks {
		if len(t.Cmds) == 0 {
			return nil, status.Errorf(codes.InvalidArgument, "task %d has no command", i)
		}
		estimate := time.Duration(t.Estimate * float64(time.Second))
		if err := j.AddTask(s.engine.NewTask(t.Kind, estimate, s.WorkFor(t))); err != nil {
			return nil, toStatus(err)
		}
	}
	if len(sub.Masters) != 0 {
		masters := make([]*jobq.Job, 0, len(sub.Masters))
		for _, id := range sub.Masters {
			m, err := q.Job(id)
			if err != nil {
				return nil, toStatus(err)
			}
			masters = append(masters, m)
		}
		if err := j.SetMasters(sub.MustFinish, masters...); err != nil {
			return nil, toStatus(err)
		}
	}
	if sub.Alias != "" {
		if sub.Alias == j.ID() {
			j.Cleanup()
			return nil, status.Errorf(codes.InvalidArgument, "alias %s is the job id", sub.Alias)
		}
		if err := q.CheckAlias(sub.Alias); err != nil {
			j.Cleanup()
			return nil, toStatus(err)
		}
	}
	if err := q.QueueJob(j, sub.Priority); err != nil {
		j.Cleanup()
		return nil, toStatus(err)
	}
	if sub.Alias != "" {
		// the alias could be taken after it was checked.
		if err := q.Alias(sub.Alias, j.ID()); err != nil {
			s.log.WithJob(j.ID()).Warn("rpc: alias %s not set, withdrawing the job: %v", sub.Alias, err)
			s.withdraw(ctx, j)
			return nil, toStatus(err)
		}
	}
	s.log.WithJob(j.ID()).Info("rpc: submitted with %d tasks", len(sub.Tasks))
	return wrapperspb.String(j.ID()), nil
}

// withdraw stops a queued job and removes it from the queue.
func (s *Server) withdraw(ctx context.Context, j *jobq.Job) {
	j.Stop()
	if err := j.Wait(ctx); err != nil {
		s.log.WithJob(j.ID()).Warn("rpc: job not withdrawn: %v", err)
		return
	}
	if err := s.engine.Queue.RemoveJob(j.ID()); err != nil {
		s.log.WithJob(j.ID()).Warn("rpc: job not withdrawn: %v", err)
	}
}

func (s *Server) info(id string) (JobInfo, error) {
	q := s.engine.Queue
	st, err := q.Status(id)
	if err != nil {
		return JobInfo{}, err
	}
	p, err := q.Progress(id)
	if err != nil {
		return JobInfo{}, err
	}
	d, err := q.EstimatedRuntime(id)
	if err != nil {
		return JobInfo{}, err
	}
	msg, err := q.StatusMessage(id)
	if err != nil {
		return JobInfo{}, err
	}
	return JobInfo{
		ID:        id,
		Status:    st.String(),
		Progress:  p,
		Remaining: d.Seconds(),
		Message:   msg,
	}, nil
}

// Status returns JobInfo of a job or a process.
func (s *Server) Status(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	info, err := s.info(in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(info)
}

// Cancel stops a job or a process.
func (s *Server) Cancel(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	s.log.Info("rpc: cancel %s", in.GetValue())
	if err := s.engine.Queue.CancelJob(in.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// CancelAll stops every unfinished job.
func (s *Server) CancelAll(ctx context.Context, in *emptypb.Empty) (*emptypb.Empty, error) {
	s.log.Info("rpc: cancel all")
	s.engine.Queue.CancelAllJobs()
	return &emptypb.Empty{}, nil
}

// Remove removes a finished job or process.
func (s *Server) Remove(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	s.log.Info("rpc: remove %s", in.GetValue())
	if err := s.engine.Queue.RemoveJob(in.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Log returns the log of a job or a process.
func (s *Server) Log(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	text, err := s.engine.Queue.Log(in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(text), nil
}

// List returns JobInfo of queued jobs, from the highest priority.
func (s *Server) List(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error) {
	l := jobList{Jobs: []JobInfo{}}
	for _, qj := range s.engine.Queue.Jobs() {
		j := qj.Job
		l.Jobs = append(l.Jobs, JobInfo{
			ID:        j.ID(),
			Status:    j.Status().String(),
			Priority:  qj.Priority,
			Progress:  j.Progress(),
			Remaining: j.EstimatedRuntime().Seconds(),
			Message:   j.StatusMessage(),
		})
	}
	return toStruct(l)
}

// Alias sets an alias of a job or a process.
func (s *Server) Alias(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	req := aliasRequest{}
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.engine.Queue.Alias(req.Virtual, req.Real); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// RegisterProcess registers queued jobs as a process.
func (s *Server) RegisterProcess(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	req := processRequest{}
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.engine.Queue.RegisterProcessIDs(req.ID, req.Jobs...); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Run starts queued jobs in priority order.
// It returns before all the groups are started.
func (s *Server) Run(ctx context.Context, in *emptypb.Empty) (*emptypb.Empty, error) {
	runCtx := s.runContext()
	go func() {
		if err := s.engine.Queue.RunJobs(runCtx); err != nil {
			s.log.Warn("rpc: run stopped: %v", err)
		}
	}()
	return &emptypb.Empty{}, nil
}

// toStatus converts an engine error to a gRPC status error.
func toStatus(err error) error {
	var cerr *jobq.ConsistencyError
	code := codes.InvalidArgument
	switch {
	case errors.As(err, &cerr):
		code = codes.Internal
	case errors.Is(err, jobq.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, jobq.ErrDuplicateID), errors.Is(err, jobq.ErrAlreadyQueued):
		code = codes.AlreadyExists
	case errors.Is(err, jobq.ErrJobNotFinished), errors.Is(err, jobq.ErrJobStarted):
		code = codes.FailedPrecondition
	}
	return status.Error(code, err.Error())
}
