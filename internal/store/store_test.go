package store

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}

	id := gen.Generate()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, id, gen.Generate())
}

func TestSequentialGenerator(t *testing.T) {
	gen := NewSequentialGenerator("wi")

	assert.Equal(t, "wi-1", gen.Generate())
	assert.Equal(t, "wi-2", gen.Generate())
}

func TestSequentialGeneratorConcurrent(t *testing.T) {
	gen := NewSequentialGenerator("x")
	seen := sync.Map{}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, dup := seen.LoadOrStore(gen.Generate(), true)
			assert.False(t, dup)
		}()
	}
	wg.Wait()
}
