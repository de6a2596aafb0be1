package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageErrorKeepsChain(t *testing.T) {
	cause := Transient(errors.New("connection reset by peer"))
	err := fmt.Errorf("cycle 7: %w", Wrap(StagePublish, "person", cause))

	assert.True(t, IsTransient(err))
	assert.Equal(t, StagePublish, StageOf(err))
	assert.Equal(t, "cycle 7: publish person: transient i/o error: connection reset by peer", err.Error())
}

func TestNilPassesThrough(t *testing.T) {
	assert.NoError(t, Wrap(StageCommit, "genre", nil))
	assert.NoError(t, Transient(nil))
}

func TestClassification(t *testing.T) {
	noChanges := fmt.Errorf("film_work: %w", ErrNoChanges)
	assert.True(t, IsNoChanges(noChanges))
	assert.False(t, IsTransient(noChanges))
	assert.Equal(t, Stage("unknown"), StageOf(noChanges))

	bad := Newf(ErrInvalidInput, "bad table %q", "x;y")
	assert.ErrorIs(t, bad, ErrInvalidInput)
	assert.Contains(t, bad.Error(), `"x;y"`)

	assert.False(t, IsTransient(context.Canceled))
}
