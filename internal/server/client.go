package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is the gRPC client for the dispatcher service, used by the CLI
// and by workers/consumers. It negotiates the JSON content-subtype so
// both ends use the codec from codec.go.
type Client struct {
	cc *grpc.ClientConn
}

// Dial connects to a dispatcher at the given address.
func Dial(target string) (*Client, error) {
	cc, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial dispatcher at %s: %w", target, err)
	}
	return &Client{cc: cc}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.cc.Close()
}

func invoke[Req any, Resp any](ctx context.Context, c *Client, method string, req *Req) (*Resp, error) {
	resp := new(Resp)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetOrRegisterDataset(ctx context.Context, req *GetOrRegisterDatasetRequest) (*GetOrRegisterDatasetResponse, error) {
	return invoke[GetOrRegisterDatasetRequest, GetOrRegisterDatasetResponse](ctx, c, "GetOrRegisterDataset", req)
}

func (c *Client) RegisterWorker(ctx context.Context, req *RegisterWorkerRequest) (*RegisterWorkerResponse, error) {
	return invoke[RegisterWorkerRequest, RegisterWorkerResponse](ctx, c, "RegisterWorker", req)
}

func (c *Client) GetOrCreateJob(ctx context.Context, req *GetOrCreateJobRequest) (*GetOrCreateJobResponse, error) {
	return invoke[GetOrCreateJobRequest, GetOrCreateJobResponse](ctx, c, "GetOrCreateJob", req)
}

func (c *Client) AcquireJobClient(ctx context.Context, req *AcquireJobClientRequest) (*AcquireJobClientResponse, error) {
	return invoke[AcquireJobClientRequest, AcquireJobClientResponse](ctx, c, "AcquireJobClient", req)
}

func (c *Client) ReleaseJobClient(ctx context.Context, req *ReleaseJobClientRequest) (*ReleaseJobClientResponse, error) {
	return invoke[ReleaseJobClientRequest, ReleaseJobClientResponse](ctx, c, "ReleaseJobClient", req)
}

func (c *Client) ClientHeartbeat(ctx context.Context, req *ClientHeartbeatRequest) (*ClientHeartbeatResponse, error) {
	return invoke[ClientHeartbeatRequest, ClientHeartbeatResponse](ctx, c, "ClientHeartbeat", req)
}

func (c *Client) ProduceSplit(ctx context.Context, req *ProduceSplitRequest) (*ProduceSplitResponse, error) {
	return invoke[ProduceSplitRequest, ProduceSplitResponse](ctx, c, "ProduceSplit", req)
}

func (c *Client) FinishTask(ctx context.Context, req *FinishTaskRequest) (*FinishTaskResponse, error) {
	return invoke[FinishTaskRequest, FinishTaskResponse](ctx, c, "FinishTask", req)
}

func (c *Client) RemoveTask(ctx context.Context, req *RemoveTaskRequest) (*RemoveTaskResponse, error) {
	return invoke[RemoveTaskRequest, RemoveTaskResponse](ctx, c, "RemoveTask", req)
}

func (c *Client) RecordWorkerMetrics(ctx context.Context, req *WorkerMetricsRequest) (*WorkerMetricsResponse, error) {
	return invoke[WorkerMetricsRequest, WorkerMetricsResponse](ctx, c, "RecordWorkerMetrics", req)
}

func (c *Client) GetStatus(ctx context.Context, req *GetStatusRequest) (*GetStatusResponse, error) {
	return invoke[GetStatusRequest, GetStatusResponse](ctx, c, "GetStatus", req)
}
