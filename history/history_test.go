package history

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/dentalogic/assessment"
)

func TestAddGet(t *testing.T) {
	s := NewStore(10)
	fixed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	counts := []assessment.ClassCount{{Class: "D3", Count: 2}}
	e := s.Add(Entry{FileName: "molar.jpg", Class: "D3", Confidence: 87.5, Counts: counts})

	_, err := uuid.Parse(e.ID)
	require.NoError(t, err)
	assert.Equal(t, fixed, e.CreatedAt)

	counts[0].Count = 99
	got, err := s.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, "molar.jpg", got.FileName)
	assert.Equal(t, 2, got.Counts[0].Count)
}

func TestListNewestFirst(t *testing.T) {
	s := NewStore(10)
	for i := 0; i < 5; i++ {
		s.Add(Entry{FileName: fmt.Sprintf("%d.jpg", i)})
	}

	all := s.List(0)
	require.Len(t, all, 5)
	assert.Equal(t, "4.jpg", all[0].FileName)
	assert.Equal(t, "0.jpg", all[4].FileName)

	two := s.List(2)
	require.Len(t, two, 2)
	assert.Equal(t, "4.jpg", two[0].FileName)
	assert.Equal(t, "3.jpg", two[1].FileName)
}

func TestCapacityEvictsOldest(t *testing.T) {
	s := NewStore(3)
	first := s.Add(Entry{FileName: "0.jpg"})
	for i := 1; i < 5; i++ {
		s.Add(Entry{FileName: fmt.Sprintf("%d.jpg", i)})
	}

	assert.Equal(t, 3, s.Len())
	_, err := s.Get(first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "2.jpg", s.List(0)[2].FileName)
}

func TestDelete(t *testing.T) {
	s := NewStore(0)
	assert.Equal(t, DefaultCapacity, s.Capacity())

	e := s.Add(Entry{})
	require.NoError(t, s.Delete(e.ID))
	assert.Zero(t, s.Len())
	assert.ErrorIs(t, s.Delete(e.ID), ErrNotFound)
}

func TestConcurrentAdd(t *testing.T) {
	s := NewStore(50)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Add(Entry{Class: "D0"})
			s.List(5)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}
