package repository

import (
	"context"

	"github.com/martijn/snapkeep/internal/core/domain"
)

type RetentionPolicyRepository interface {
	// Create inserts the policy. When policy.IsDefault is set the previous
	// default is cleared in the same transaction.
	Create(ctx context.Context, policy *domain.RetentionPolicy) error
	FindByID(ctx context.Context, id int64) (*domain.RetentionPolicy, error)
	FindByName(ctx context.Context, name string) (*domain.RetentionPolicy, error)
	FindDefault(ctx context.Context) (*domain.RetentionPolicy, error)
	// Update saves the policy, swapping the default flag atomically when it
	// becomes the default.
	Update(ctx context.Context, policy *domain.RetentionPolicy) error
	// Delete fails with ErrInUse for the default policy or one that
	// schedules still reference.
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]*domain.RetentionPolicy, error)
	FindAutoCleanup(ctx context.Context) ([]*domain.RetentionPolicy, error)
}
