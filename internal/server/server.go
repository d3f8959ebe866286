package server

import (
	"context"

	"github.com/eth-easl/ml-input-data-service/internal/dispatcher"
	"github.com/eth-easl/ml-input-data-service/internal/metadata"
	"github.com/eth-easl/ml-input-data-service/internal/service"
	"github.com/eth-easl/ml-input-data-service/pkg/types"
)

// Server implements DispatcherServiceServer on top of the dispatcher
// coordinator. It is a thin translation layer: every method converts
// the wire message, delegates, and converts the result back.
type Server struct {
	dispatcher *service.Dispatcher
}

// NewServer creates a new gRPC server instance.
func NewServer(d *service.Dispatcher) *Server {
	return &Server{dispatcher: d}
}

func (s *Server) GetOrRegisterDataset(ctx context.Context, req *GetOrRegisterDatasetRequest) (*GetOrRegisterDatasetResponse, error) {
	id, err := s.dispatcher.GetOrRegisterDataset(req.Fingerprint)
	if err != nil {
		return nil, err
	}
	return &GetOrRegisterDatasetResponse{DatasetID: id}, nil
}

func (s *Server) RegisterWorker(ctx context.Context, req *RegisterWorkerRequest) (*RegisterWorkerResponse, error) {
	tasks, err := s.dispatcher.RegisterWorker(req.WorkerAddress, req.TransferAddress)
	if err != nil {
		return nil, err
	}
	return &RegisterWorkerResponse{Tasks: taskInfos(tasks)}, nil
}

func (s *Server) GetOrCreateJob(ctx context.Context, req *GetOrCreateJobRequest) (*GetOrCreateJobResponse, error) {
	jobReq := service.JobRequest{
		DatasetID:         req.DatasetID,
		ProcessingMode:    types.ProcessingMode(req.ProcessingMode),
		NumSplitProviders: req.NumSplitProviders,
		NumConsumers:      req.NumConsumers,
	}
	if req.JobName != "" {
		jobReq.NamedJobKey = &types.NamedJobKey{
			Name:  req.JobName,
			Index: req.JobNameIndex,
		}
	}
	jobID, err := s.dispatcher.GetOrCreateJob(jobReq)
	if err != nil {
		return nil, err
	}
	return &GetOrCreateJobResponse{JobID: jobID}, nil
}

func (s *Server) AcquireJobClient(ctx context.Context, req *AcquireJobClientRequest) (*AcquireJobClientResponse, error) {
	jobClientID, err := s.dispatcher.AcquireJobClient(req.JobID)
	if err != nil {
		return nil, err
	}
	return &AcquireJobClientResponse{JobClientID: jobClientID}, nil
}

func (s *Server) ReleaseJobClient(ctx context.Context, req *ReleaseJobClientRequest) (*ReleaseJobClientResponse, error) {
	if err := s.dispatcher.ReleaseJobClient(req.JobClientID); err != nil {
		return nil, err
	}
	return &ReleaseJobClientResponse{}, nil
}

func (s *Server) ClientHeartbeat(ctx context.Context, req *ClientHeartbeatRequest) (*ClientHeartbeatResponse, error) {
	tasks, err := s.dispatcher.ClientHeartbeat(req.JobClientID, req.TaskAccepted, req.NewTargetRound)
	if err != nil {
		return nil, err
	}
	return &ClientHeartbeatResponse{Tasks: taskInfos(tasks)}, nil
}

func (s *Server) ProduceSplit(ctx context.Context, req *ProduceSplitRequest) (*ProduceSplitResponse, error) {
	if err := s.dispatcher.ProduceSplit(req.JobID, req.SplitProviderIndex, req.Finished); err != nil {
		return nil, err
	}
	return &ProduceSplitResponse{}, nil
}

func (s *Server) FinishTask(ctx context.Context, req *FinishTaskRequest) (*FinishTaskResponse, error) {
	if err := s.dispatcher.FinishTask(req.TaskID); err != nil {
		return nil, err
	}
	return &FinishTaskResponse{}, nil
}

func (s *Server) RemoveTask(ctx context.Context, req *RemoveTaskRequest) (*RemoveTaskResponse, error) {
	if err := s.dispatcher.RemoveTask(req.TaskID); err != nil {
		return nil, err
	}
	return &RemoveTaskResponse{}, nil
}

func (s *Server) RecordWorkerMetrics(ctx context.Context, req *WorkerMetricsRequest) (*WorkerMetricsResponse, error) {
	nodeMetrics := metadata.NodeMetrics{
		BytesProduced:  req.BytesProduced,
		NumElements:    req.NumElements,
		InPrefixTimeMs: req.InPrefixTimeMs,
	}
	if err := s.dispatcher.RecordWorkerMetrics(req.WorkerAddress, req.Fingerprint, nodeMetrics); err != nil {
		return nil, err
	}
	return &WorkerMetricsResponse{}, nil
}

func (s *Server) GetStatus(ctx context.Context, req *GetStatusRequest) (*GetStatusResponse, error) {
	return &GetStatusResponse{Status: s.dispatcher.GetStatus()}, nil
}

func taskInfos(tasks []*dispatcher.Task) []TaskInfo {
	infos := make([]TaskInfo, 0, len(tasks))
	for _, task := range tasks {
		infos = append(infos, TaskInfo{
			TaskID:          task.ID,
			JobID:           task.JobID,
			WorkerAddress:   task.WorkerAddress,
			TransferAddress: task.TransferAddress,
			DatasetKey:      task.DatasetKey,
			StartingRound:   task.StartingRound,
			Finished:        task.Finished,
		})
	}
	return infos
}
