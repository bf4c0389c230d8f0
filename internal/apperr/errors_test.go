package apperr

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestCodeOf_WrappedError(t *testing.T) {
	base := PermissionDenied("too many failed attempts")
	wrapped := errors.Wrap(base, "verify otp")

	assert.Equal(t, codes.PermissionDenied, CodeOf(wrapped))
	assert.True(t, Is(wrapped, codes.PermissionDenied))
	assert.Equal(t, "too many failed attempts", PublicMessage(wrapped))
}

func TestCodeOf_Unclassified(t *testing.T) {
	err := errors.New("connection reset by peer")

	assert.Equal(t, codes.Internal, CodeOf(err))
	assert.Equal(t, "internal error", PublicMessage(err))
	assert.Equal(t, codes.OK, CodeOf(nil))
}

func TestUnavailable_HidesCause(t *testing.T) {
	err := Unavailable(errors.New("dial tcp 10.0.0.1:443: i/o timeout"), "signing provider unavailable")

	assert.Equal(t, "signing provider unavailable", PublicMessage(err))
	assert.Contains(t, err.Error(), "i/o timeout")
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(CodeOf(err)))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(codes.InvalidArgument))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(codes.Unauthenticated))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(codes.PermissionDenied))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(codes.NotFound))
	assert.Equal(t, http.StatusPreconditionFailed, HTTPStatus(codes.FailedPrecondition))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(codes.Internal))
}
