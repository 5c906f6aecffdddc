package services

import (
	"context"

	"versfm/internal/planner"
)

type Transfers interface {
	Execute(ctx context.Context, req planner.Request) (TransferResult, error)
}

type TransferProgressProvider interface {
	TransferProgress() <-chan TransferProgress
}
