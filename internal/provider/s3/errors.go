package s3

import (
	"context"

	"github.com/aws/smithy-go"
	"gitlab.com/tozd/go/errors"

	"versfm/internal/domain"
)

// classify maps S3 API errors onto the domain error classes. Anything not
// recognized (throttling, 5xx, transport and credential failures) is treated
// as a transient provider failure.
func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchUpload":
			return domain.NewOpError(op, key, domain.ErrNotFound, err)
		// A missing bucket means no object in it can be reached, not that the
		// entry is gone.
		case "NoSuchBucket", "AccessDenied", "Forbidden", "AllAccessDisabled", "AccountProblem":
			return domain.NewOpError(op, key, domain.ErrPermissionDenied, err)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return domain.NewOpError(op, key, domain.ErrAlreadyExists, err)
		case "InvalidBucketName", "InvalidArgument":
			return domain.NewOpError(op, key, domain.ErrConfiguration, err)
		}
	}
	return domain.NewOpError(op, key, domain.ErrProviderUnavailable, err)
}
