package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

type slotTaken struct{ session string }

func (e slotTaken) Error() string             { return "slot taken" }
func (e slotTaken) ErrorDetails() interface{} { return map[string]string{"session": e.session} }

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("mark: %w", Clone(ErrInvalidTransition, "session already marked"))
	assert.True(t, Is(err, ErrInvalidTransition))
	assert.False(t, Is(err, ErrConflict))
	assert.False(t, Is(nil, ErrConflict))
}

func TestFromErrorWrapsUnknownAsInternal(t *testing.T) {
	cause := fmt.Errorf("boom")
	got := FromError(cause)
	assert.Equal(t, ErrInternal.Code, got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.Status)
	assert.ErrorIs(t, got, cause)
	assert.Nil(t, FromError(nil))
}

func TestDetailsOfFollowsChain(t *testing.T) {
	err := Wrap(slotTaken{session: "s-1"}, ErrConflict.Code, ErrConflict.Status, "slot taken")
	assert.Equal(t, map[string]string{"session": "s-1"}, DetailsOf(err))
	assert.Nil(t, DetailsOf(fmt.Errorf("plain")))
}

func TestCloneAndWithDetailsCopy(t *testing.T) {
	c := Clone(ErrNotFound, "enrollment not found")
	assert.Equal(t, "enrollment not found", c.Message)
	assert.Equal(t, "resource not found", ErrNotFound.Message)

	d := WithDetails(ErrValidation, []string{"planDays"})
	assert.Equal(t, []string{"planDays"}, d.Details)
	assert.Nil(t, ErrValidation.Details)
}
