// Package errors carries machine-readable error codes for the finance advisor.
// Codes are dotted paths ending in a reason segment; helpers such as
// IsInvalidInput and HTTPStatus key off that last segment.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeIngestUploadInvalid    Code = "ingest.upload.invalid"
	CodeIngestQueueOverloaded  Code = "ingest.queue.overloaded"
	CodeIngestQueueClosed      Code = "ingest.queue.closed"
	CodePipelineExtractFailure Code = "pipeline.extract.failure"
	CodePipelineStructFailure  Code = "pipeline.structure.failure"
	CodePipelineTimeout        Code = "pipeline.step.timeout"

	CodeStorePersistFailure     Code = "store.persist.failure"
	CodeStoreQueryFailure       Code = "store.query.failure"
	CodeStoreEntityNotFound     Code = "store.entity.not_found"
	CodeStoreTransitionConflict Code = "store.transition.conflict"
	CodeStoreInvalidInput       Code = "store.invalid_input"
	CodeVectorWriteFailure      Code = "vector.write.failure"
	CodeVectorQueryFailure      Code = "vector.query.failure"

	CodeToolSecurityDenied   Code = "tool.security.denied"
	CodeToolExecuteFailure   Code = "tool.execute.failure"
	CodeToolNotFound         Code = "tool.registry.not_found"
	CodeToolArgumentsInvalid Code = "tool.arguments.invalid"
	CodeToolTimeout          Code = "tool.execute.timeout"

	CodeAgentLoopBoundExceeded Code = "agent.loop.bound_exceeded"
	CodeAgentLoopInvalidInput  Code = "agent.loop.invalid_input"
	CodeAgentDecideTimeout     Code = "agent.decide.timeout"

	CodeProviderRequestInvalid  Code = "provider.request.invalid"
	CodeProviderResponseInvalid Code = "provider.response.invalid"
	CodeProviderUpstreamFailure Code = "provider.upstream.failure"
	CodeProviderTimeout         Code = "provider.request.timeout"

	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeServerRequestInvalid   Code = "server.request.invalid"
	CodeServerAuthUnauthorized Code = "server.auth.unauthorized"
	CodeServerInternalFailure  Code = "server.internal.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldUserID(value string) Attr {
	return Field("user_id", value)
}

func FieldDocumentID(value string) Attr {
	return Field("document_id", value)
}

func FieldTool(value string) Attr {
	return Field("tool", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(string(code)).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(string(code)).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(string(code)).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(string(code)).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain, keeping its code.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}
	return oops.Code(string(code)).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	switch code := oopsErr.Code().(type) {
	case string:
		return Code(code)
	case Code:
		return code
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value"
}

func IsUnauthorized(err error) bool {
	r := reason(CodeOf(err))
	return r == "unauthorized" || r == "denied"
}

func IsOverloaded(err error) bool {
	return reason(CodeOf(err)) == "overloaded"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case HasCode(err, CodeServerAuthUnauthorized):
		return http.StatusUnauthorized
	case IsUnauthorized(err):
		return http.StatusForbidden
	case IsOverloaded(err), HasCode(err, CodeIngestQueueClosed):
		return http.StatusServiceUnavailable
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	return oops.Code(string(CodeServerInternalFailure)).Wrap(joined)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
