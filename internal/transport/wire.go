// Package transport exposes the orchestrator over gRPC. Messages are
// google.protobuf.Struct values carrying the JSON form of the request and
// result types, so the service needs no generated code.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/quantum-shield/internal/crypto"
	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/orchestrator"
)

// #region messages

// ProtectRequest is the body of Shield/Protect.
type ProtectRequest struct {
	Data      any                 `json:"data"`
	Policy    orchestrator.Policy `json:"policy"`
	UserID    string              `json:"user_id,omitempty"`
	SessionID string              `json:"session_id,omitempty"`
}

// ObserveRequest is the body of Shield/Observe. The source address and
// transport security come from the connection, not the body.
type ObserveRequest struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	Token       string        `json:"token"`
	UserAgent   string        `json:"user_agent,omitempty"`
	DeviceID    string        `json:"device_id,omitempty"`
	Environment string        `json:"environment,omitempty"`
	Proof       *crypto.Proof `json:"proof,omitempty"`
}

// IDRequest names one protected item.
type IDRequest struct {
	ID string `json:"id"`
}

// #endregion messages

// #region codec

// toStruct encodes v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return out, nil
}

// fromStruct decodes s into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return errs.InvalidArgument("empty message")
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errs.InvalidArgument("decode %T: %v", v, err)
	}
	return nil
}

// #endregion codec

// #region status

// toStatus maps the error taxonomy onto gRPC codes. Nil stays nil.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		code = codes.InvalidArgument
	case errors.Is(err, errs.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, errs.ErrCollapsed), errors.Is(err, errs.ErrNotInitialized):
		code = codes.FailedPrecondition
	case errors.Is(err, errs.ErrCircuitOpen), errors.Is(err, errs.ErrCircuitHalfOpenExhausted):
		code = codes.Unavailable
	case errors.Is(err, errs.ErrIntegrityViolation):
		code = codes.DataLoss
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}
	return status.Error(code, err.Error())
}

// fromStatus turns a gRPC status back into a wrapped sentinel so callers can
// keep using errors.Is.
func fromStatus(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s rpc: %w", op, err)
	}
	var sentinel error
	switch st.Code() {
	case codes.InvalidArgument:
		sentinel = errs.ErrInvalidArgument
	case codes.NotFound:
		sentinel = errs.ErrNotFound
	case codes.DataLoss:
		sentinel = errs.ErrIntegrityViolation
	case codes.DeadlineExceeded:
		sentinel = context.DeadlineExceeded
	case codes.Canceled:
		sentinel = context.Canceled
	default:
		return fmt.Errorf("%s rpc: %w", op, err)
	}
	return fmt.Errorf("%s rpc: %w: %s", op, sentinel, st.Message())
}

// #endregion status
