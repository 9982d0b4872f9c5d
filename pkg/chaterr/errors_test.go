package chaterr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpecificErrorsWrapKinds(t *testing.T) {
	assert.True(t, errors.Is(ErrConversationNotFound, ErrNotFound))
	assert.True(t, errors.Is(ErrMessageNotFound, ErrNotFound))
	assert.True(t, errors.Is(ErrDeleted, ErrInvalidState))
	assert.True(t, errors.Is(Invalid("empty body"), ErrInvalidArgument))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("edit 7: %w", ErrMessageNotFound), http.StatusNotFound},
		{ErrNotParticipant, http.StatusForbidden},
		{ErrNotOwner, http.StatusForbidden},
		{ErrDeleted, http.StatusConflict},
		{Invalid("limit"), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, HTTPStatus(c.err), "%v", c.err)
	}
}
