package notifyerr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfClassified(t *testing.T) {
	err := New(InvalidInput, "bad prefs shape")
	assert.Equal(t, InvalidInput, KindOf(err))
}

func TestKindOfUnclassifiedDefaultsToTransient(t *testing.T) {
	assert.Equal(t, TransientInfra, KindOf(errors.New("boom")))
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(TransientInfra, "redis append failed", cause)
	assert.True(t, errors.Is(err, cause))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(InvalidInput))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(NotAuthorized))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(TransientInfra))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(RenderFailure))
}

func TestRetriable(t *testing.T) {
	assert.True(t, Retriable(New(TransientInfra, "x")))
	assert.True(t, Retriable(New(RenderFailure, "x")))
	assert.False(t, Retriable(New(InvalidInput, "x")))
	assert.False(t, Retriable(New(BadSignature, "x")))
}
