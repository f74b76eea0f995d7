package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDomainErrorPassesThroughDomainErrors(t *testing.T) {
	err := NewUnauthorized("missing token")
	de := ToDomainError(err)
	require.NotNil(t, de)
	assert.Equal(t, "UNAUTHORIZED", de.Code)
	assert.Equal(t, http.StatusUnauthorized, de.HTTPStatus)
}

func TestToDomainErrorMapsFiberErrors(t *testing.T) {
	cases := []struct {
		status   int
		wantCode string
	}{
		{http.StatusBadRequest, "VALIDATION_FAILED"},
		{http.StatusUnauthorized, "UNAUTHORIZED"},
		{http.StatusForbidden, "FORBIDDEN"},
		{http.StatusNotFound, "NOT_FOUND"},
		{http.StatusConflict, "REQUEST_FAILED"},
		{http.StatusBadGateway, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		de := ToDomainError(fiber.NewError(tc.status, "handler rejected"))
		require.NotNil(t, de)
		assert.Equal(t, tc.status, de.HTTPStatus, "status %d", tc.status)
		assert.Equal(t, tc.wantCode, de.Code, "status %d", tc.status)
		assert.Equal(t, "handler rejected", de.Message)
	}

	// Wrapped fiber errors keep their status too.
	wrapped := fmt.Errorf("webhook: %w", fiber.NewError(http.StatusUnauthorized, "bad secret token"))
	de := ToDomainError(wrapped)
	assert.Equal(t, http.StatusUnauthorized, de.HTTPStatus)
	assert.Equal(t, "UNAUTHORIZED", de.Code)
}

func TestToDomainErrorMapsNoRowsToNotFound(t *testing.T) {
	de := ToDomainError(pgx.ErrNoRows)
	require.NotNil(t, de)
	assert.Equal(t, "NOT_FOUND", de.Code)
	assert.Equal(t, http.StatusNotFound, de.HTTPStatus)
}

func TestToDomainErrorDefaultsToInternal(t *testing.T) {
	de := ToDomainError(errors.New("boom"))
	require.NotNil(t, de)
	assert.Equal(t, "INTERNAL_ERROR", de.Code)
	assert.Equal(t, http.StatusInternalServerError, de.HTTPStatus)
}
