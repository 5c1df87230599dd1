package service

import (
	"context"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/repository"
)

type ExecutionService struct {
	executionRepo repository.ExecutionRepository
}

func NewExecutionService(executionRepo repository.ExecutionRepository) *ExecutionService {
	return &ExecutionService{
		executionRepo: executionRepo,
	}
}

// GetExecution retrieves an execution by ID
func (s *ExecutionService) GetExecution(ctx context.Context, id int64) (*domain.Execution, error) {
	execution, err := s.executionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, "execution")
	}
	return execution, nil
}

// ListExecutions lists executions with filtering
func (s *ExecutionService) ListExecutions(ctx context.Context, filter repository.ExecutionFilter) ([]*domain.Execution, error) {
	return s.executionRepo.List(ctx, filter)
}

// CountExecutions counts executions with filtering
func (s *ExecutionService) CountExecutions(ctx context.Context, filter repository.ExecutionFilter) (int, error) {
	return s.executionRepo.Count(ctx, filter)
}
