package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordNotFoundError(t *testing.T) {
	err := fmt.Errorf("commit: %w", &RecordNotFoundError{ID: "booking-7"})

	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.Equal(t, "commit: record not found: booking-7", err.Error())

	var missing *RecordNotFoundError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "booking-7", missing.ID)

	assert.False(t, errors.Is(errors.New("record not found"), ErrRecordNotFound))
}
