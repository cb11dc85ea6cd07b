package errors_test

import (
	stderrors "errors"
	"net/http"
	"testing"

	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := finerr.New(
		finerr.CodeIngestUploadInvalid,
		"file is not a PDF",
		finerr.FieldUserID("user-1"),
		finerr.Field("filename", "notes.txt"),
	)

	require.Error(t, err)
	assert.Equal(t, finerr.CodeIngestUploadInvalid, finerr.CodeOf(err))
	assert.True(t, finerr.HasCode(err, finerr.CodeIngestUploadInvalid))

	fields := finerr.FieldsOf(err)
	assert.Equal(t, "user-1", fields["user_id"])
	assert.Equal(t, "notes.txt", fields["filename"])
}

func TestErrorfWrapsInnerError(t *testing.T) {
	inner := stderrors.New("disk full")
	err := finerr.Errorf(finerr.CodeStorePersistFailure, "insert document: %w", inner)

	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "insert document")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, finerr.Wrap(nil, finerr.CodeStorePersistFailure, "noop"))
	assert.NoError(t, finerr.Wrapf(nil, finerr.CodeStorePersistFailure, "noop %d", 1))
	assert.NoError(t, finerr.With(nil, finerr.FieldTool("query")))
}

func TestWrapKeepsInnermostCode(t *testing.T) {
	inner := finerr.New(finerr.CodeToolSecurityDenied, "drop detected")
	outer := finerr.Wrap(inner, finerr.CodeToolExecuteFailure, "running tool")

	assert.Equal(t, finerr.CodeToolSecurityDenied, finerr.CodeOf(outer))
	assert.ErrorIs(t, outer, inner)
}

func TestWithOnPlainErrorDefaultsToInternalCode(t *testing.T) {
	err := finerr.With(stderrors.New("boom"), finerr.FieldDocumentID("doc-1"))

	assert.Equal(t, finerr.CodeServerInternalFailure, finerr.CodeOf(err))
	assert.Equal(t, "doc-1", finerr.FieldsOf(err)["document_id"])
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, finerr.Code(""), finerr.CodeOf(stderrors.New("plain")))
	assert.Equal(t, finerr.Code(""), finerr.CodeOf(nil))
	assert.Nil(t, finerr.FieldsOf(stderrors.New("plain")))
}

func TestClassificationAndStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		code   finerr.Code
		status int
	}{
		{"not found", finerr.CodeStoreEntityNotFound, http.StatusNotFound},
		{"conflict", finerr.CodeStoreTransitionConflict, http.StatusConflict},
		{"invalid upload", finerr.CodeIngestUploadInvalid, http.StatusBadRequest},
		{"invalid config", finerr.CodeConfigValidateInvalidValue, http.StatusBadRequest},
		{"unauthorized", finerr.CodeServerAuthUnauthorized, http.StatusUnauthorized},
		{"security denied", finerr.CodeToolSecurityDenied, http.StatusForbidden},
		{"overloaded", finerr.CodeIngestQueueOverloaded, http.StatusServiceUnavailable},
		{"queue closed", finerr.CodeIngestQueueClosed, http.StatusServiceUnavailable},
		{"decide timeout", finerr.CodeAgentDecideTimeout, http.StatusGatewayTimeout},
		{"persist failure", finerr.CodeStorePersistFailure, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := finerr.New(tt.code, tt.name)
			assert.Equal(t, tt.status, finerr.HTTPStatus(err))
		})
	}
}

func TestClassificationOnPlainError(t *testing.T) {
	err := stderrors.New("plain")

	assert.False(t, finerr.IsNotFound(err))
	assert.False(t, finerr.IsInvalidInput(err))
	assert.False(t, finerr.IsOverloaded(err))
	assert.Equal(t, http.StatusInternalServerError, finerr.HTTPStatus(err))
}

func TestFieldsWithEmptyKeyAreIgnored(t *testing.T) {
	err := finerr.New(finerr.CodeStorePersistFailure, "x", finerr.Field("", "skip"), finerr.Field("k", "v"))

	fields := finerr.FieldsOf(err)
	assert.Equal(t, "v", fields["k"])
	_, hasEmpty := fields[""]
	assert.False(t, hasEmpty)
}

func TestJoinCombinesErrors(t *testing.T) {
	a := stderrors.New("a")
	b := stderrors.New("b")

	err := finerr.Join(a, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, a)
	assert.ErrorIs(t, err, b)
	assert.NoError(t, finerr.Join(nil, nil))
}
