package retry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDoStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Do(5, 0, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoReturnsLastError(t *testing.T) {
	calls := 0
	err := Do(4, 0, func() error {
		calls++
		return errors.New("always failing")
	})
	assert.EqualError(t, err, "always failing")
	assert.Equal(t, 4, calls)
}
