package server

import (
	"context"

	"google.golang.org/grpc"
)

// DispatcherServiceServer is the server-side contract of the dispatcher
// gRPC service. The service descriptor below is built by hand; the wire
// format is JSON (codec.go), so no generated protobuf stubs exist.
type DispatcherServiceServer interface {
	GetOrRegisterDataset(ctx context.Context, req *GetOrRegisterDatasetRequest) (*GetOrRegisterDatasetResponse, error)
	RegisterWorker(ctx context.Context, req *RegisterWorkerRequest) (*RegisterWorkerResponse, error)
	GetOrCreateJob(ctx context.Context, req *GetOrCreateJobRequest) (*GetOrCreateJobResponse, error)
	AcquireJobClient(ctx context.Context, req *AcquireJobClientRequest) (*AcquireJobClientResponse, error)
	ReleaseJobClient(ctx context.Context, req *ReleaseJobClientRequest) (*ReleaseJobClientResponse, error)
	ClientHeartbeat(ctx context.Context, req *ClientHeartbeatRequest) (*ClientHeartbeatResponse, error)
	ProduceSplit(ctx context.Context, req *ProduceSplitRequest) (*ProduceSplitResponse, error)
	FinishTask(ctx context.Context, req *FinishTaskRequest) (*FinishTaskResponse, error)
	RemoveTask(ctx context.Context, req *RemoveTaskRequest) (*RemoveTaskResponse, error)
	RecordWorkerMetrics(ctx context.Context, req *WorkerMetricsRequest) (*WorkerMetricsResponse, error)
	GetStatus(ctx context.Context, req *GetStatusRequest) (*GetStatusResponse, error)
}

const serviceName = "easl.DispatcherService"

// Register attaches the dispatcher service to a gRPC server.
func Register(s *grpc.Server, srv DispatcherServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

func unaryHandler[Req any, Resp any](
	method string,
	call func(DispatcherServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error,
			interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DispatcherServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + serviceName + "/" + method,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(DispatcherServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DispatcherServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("GetOrRegisterDataset", DispatcherServiceServer.GetOrRegisterDataset),
		unaryHandler("RegisterWorker", DispatcherServiceServer.RegisterWorker),
		unaryHandler("GetOrCreateJob", DispatcherServiceServer.GetOrCreateJob),
		unaryHandler("AcquireJobClient", DispatcherServiceServer.AcquireJobClient),
		unaryHandler("ReleaseJobClient", DispatcherServiceServer.ReleaseJobClient),
		unaryHandler("ClientHeartbeat", DispatcherServiceServer.ClientHeartbeat),
		unaryHandler("ProduceSplit", DispatcherServiceServer.ProduceSplit),
		unaryHandler("FinishTask", DispatcherServiceServer.FinishTask),
		unaryHandler("RemoveTask", DispatcherServiceServer.RemoveTask),
		unaryHandler("RecordWorkerMetrics", DispatcherServiceServer.RecordWorkerMetrics),
		unaryHandler("GetStatus", DispatcherServiceServer.GetStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dispatcher_service",
}
