package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetDelete(t *testing.T) {
	c := New[string]()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("doc", "v1")
	got, ok := c.Get("doc")
	require.True(t, ok)
	assert.Equal(t, "v1", got)

	c.Set("doc", "v2")
	got, _ = c.Get("doc")
	assert.Equal(t, "v2", got)

	assert.True(t, c.Delete("doc"))
	assert.False(t, c.Delete("doc"))
	_, ok = c.Get("doc")
	assert.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c := New[int](WithTTL(10 * time.Millisecond))

	c.Set("k", 42)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, got)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestClear(t *testing.T) {
	c := New[int]()
	c.Set("a", 1)
	c.Set("b", 2)
	assert.Equal(t, 2, c.Size())

	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int]()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.Set("shared", n)
			c.Get("shared")
			if n%2 == 0 {
				c.Delete("shared")
			}
		}(i)
	}
	wg.Wait()
}
