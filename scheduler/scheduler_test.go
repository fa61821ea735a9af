package scheduler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialRunsInOrder(t *testing.T) {
	s := NewSerial()

	var got []int
	for i := 0; i < 100; i++ {
		require.NoError(t, s.Schedule(func() { got = append(got, i) }))
	}
	s.Close()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestSerialNestedSchedule(t *testing.T) {
	s := NewSerial()
	defer s.Close()

	var wg sync.WaitGroup
	wg.Add(1)

	var order []string
	require.NoError(t, s.Schedule(func() {
		order = append(order, "outer")
		_ = s.Schedule(func() {
			order = append(order, "inner")
			wg.Done()
		})
		order = append(order, "outer done")
	}))

	wg.Wait()
	assert.Equal(t, []string{"outer", "outer done", "inner"}, order)
}

func TestSerialRefusesAfterClose(t *testing.T) {
	s := NewSerial()
	s.Close()

	ran := false
	err := s.Schedule(func() { ran = true })
	s.Close()

	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, ran)
}

func TestInline(t *testing.T) {
	ran := false
	require.NoError(t, Inline{}.Schedule(func() { ran = true }))
	assert.True(t, ran)
}
