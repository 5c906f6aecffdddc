package services

import (
	"fmt"
	"time"

	"gitlab.com/tozd/go/errors"

	"versfm/internal/domain"
)

type TransferResult struct {
	Summary  domain.Summary
	Rejected []domain.Failure
	Duration time.Duration
	Message  string
}

// Errors renders one line per rejected mark and per task that did not
// complete.
func (result TransferResult) Errors() []string {
	lines := make([]string, 0, len(result.Rejected)+len(result.Summary.Failures))
	for _, failure := range result.Rejected {
		lines = append(lines, fmt.Sprintf("%s: %s", failure.Path, domain.Reason(failure.Err)))
	}
	for _, failure := range result.Summary.Failures {
		lines = append(lines, fmt.Sprintf("%s: %s", failure.Path, domain.Reason(failure.Err)))
	}
	return lines
}

func (result TransferResult) Err() error {
	if err := result.Summary.Err(); err != nil {
		return err
	}
	if len(result.Rejected) > 0 {
		return errors.Errorf("%d marks could not be planned: %w", len(result.Rejected), domain.ErrPartialTransfer)
	}
	return nil
}

func resultMessage(result TransferResult) string {
	summary := result.Summary
	message := fmt.Sprintf("%d done, %d failed, %d skipped", summary.Done, summary.Failed, summary.Skipped)
	if len(result.Rejected) > 0 {
		message += fmt.Sprintf(", %d rejected", len(result.Rejected))
	}
	if summary.Canceled {
		return "transfer canceled (" + message + ")"
	}
	return "transfer complete (" + message + ")"
}
