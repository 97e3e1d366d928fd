package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/matheus3301/tlk/internal/backend"
	"github.com/matheus3301/tlk/internal/call"
	"github.com/matheus3301/tlk/internal/inbox"
	"github.com/matheus3301/tlk/internal/media"
	"github.com/matheus3301/tlk/internal/messenger"
	"github.com/matheus3301/tlk/internal/timeline"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps domain errors to gRPC status errors.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return grpcstatus.FromContextError(err).Err()
	}

	code := codes.Internal
	var se *backend.StatusError
	switch {
	case errors.Is(err, inbox.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, messenger.ErrEmptyDraft):
		code = codes.InvalidArgument
	case errors.Is(err, timeline.ErrNotOpen),
		errors.Is(err, call.ErrBusy),
		errors.Is(err, call.ErrNotRinging),
		errors.Is(err, call.ErrIdle):
		code = codes.FailedPrecondition
	case errors.Is(err, media.ErrPermissionDenied):
		code = codes.PermissionDenied
	case errors.Is(err, media.ErrNoDevice):
		code = codes.Unavailable
	case errors.As(err, &se):
		switch se.Code {
		case http.StatusUnauthorized:
			code = codes.Unauthenticated
		case http.StatusForbidden:
			code = codes.PermissionDenied
		case http.StatusNotFound:
			code = codes.NotFound
		case http.StatusBadRequest:
			code = codes.InvalidArgument
		default:
			code = codes.Unavailable
		}
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}
