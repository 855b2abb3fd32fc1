package grpcdir

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/channels/directory"
)

// errorDomain tags the ErrorInfo detail carrying a directory.Code.
const errorDomain = "channels.xdao.co"

var toGRPC = map[directory.Code]codes.Code{
	directory.CodeNotFound:       codes.NotFound,
	directory.CodeUnauthorized:   codes.PermissionDenied,
	directory.CodeQuotaExhausted: codes.ResourceExhausted,
	directory.CodeConflict:       codes.AlreadyExists,
	directory.CodeInvalid:        codes.InvalidArgument,
	directory.CodeUnavailable:    codes.Unavailable,
	directory.CodeInternal:       codes.Internal,
}

func fromGRPC(c codes.Code) directory.Code {
	switch c {
	case codes.NotFound:
		return directory.CodeNotFound
	case codes.PermissionDenied, codes.Unauthenticated:
		return directory.CodeUnauthorized
	case codes.ResourceExhausted:
		return directory.CodeQuotaExhausted
	case codes.AlreadyExists, codes.Aborted:
		return directory.CodeConflict
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return directory.CodeInvalid
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return directory.CodeUnavailable
	default:
		return directory.CodeInternal
	}
}

// legacyCode recognises the free-text failures older services return
// without a structured code. This is the only place message text is
// inspected.
func legacyCode(msg string) directory.Code {
	switch {
	case strings.Contains(msg, "No such channel"):
		return directory.CodeNotFound
	case strings.Contains(msg, "not authorized"):
		return directory.CodeUnauthorized
	}
	return ""
}

// toStatus converts a backend error into a gRPC status carrying the
// directory code as an ErrorInfo detail.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	code := directory.CodeOf(err)
	msg := directory.MessageOf(err)
	switch {
	case code != "":
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = directory.CodeUnavailable
	default:
		code = directory.CodeInternal
	}
	st := status.New(toGRPC[code], msg)
	if detailed, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: string(code), Domain: errorDomain}); derr == nil {
		st = detailed
	}
	return st.Err()
}

// fromStatus converts an RPC failure into a *directory.Error. The code
// comes from the ErrorInfo detail when present, then from the legacy
// message text, then from the gRPC code.
func fromStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return directory.Errorf(directory.CodeUnavailable, op, "%v", err)
		}
		return directory.Errorf(directory.CodeInternal, op, "%v", err)
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == errorDomain {
			if c := directory.Code(info.GetReason()); c.Valid() {
				return &directory.Error{Code: c, Op: op, Message: st.Message()}
			}
		}
	}
	if c := legacyCode(st.Message()); c != "" {
		return &directory.Error{Code: c, Op: op, Message: st.Message()}
	}
	return &directory.Error{Code: fromGRPC(st.Code()), Op: op, Message: st.Message()}
}
