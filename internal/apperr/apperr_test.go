package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("bad"), http.StatusBadRequest},
		{Conflict("You already have this book checked out."), http.StatusBadRequest},
		{NotFound("Book not found."), http.StatusNotFound},
		{Forbidden("no"), http.StatusForbidden},
		{Unauthorized("Invalid email or password."), http.StatusUnauthorized},
		{New(KindRateLimited, "slow down"), http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Status(c.err), c.err.Error())
	}
}

func TestWrappedErrorsKeepTheirKind(t *testing.T) {
	cause := errors.New("pq: connection reset")
	err := fmt.Errorf("checkout: %w", Wrap(KindNotFound, "Book not found.", cause))

	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, "Book not found.", Message(err))
	assert.ErrorIs(t, err, cause)
	assert.True(t, Is(err, KindNotFound))
	assert.False(t, Is(nil, KindNotFound))
}

func TestInternalDetailNeverLeaks(t *testing.T) {
	assert.Equal(t, internalMessage, Message(errors.New("password hash mismatch at row 3")))
	assert.Equal(t, internalMessage, Message(Wrap(KindInternal, "secret", nil)))
}

func TestInvalidCarriesFields(t *testing.T) {
	err := Invalid(map[string]string{"title": "title is required"})
	assert.Equal(t, http.StatusBadRequest, Status(err))
	assert.Equal(t, map[string]string{"title": "title is required"}, FieldErrors(err))
	assert.Nil(t, FieldErrors(errors.New("x")))
}
