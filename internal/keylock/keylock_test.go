package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripedSerializesSameKey(t *testing.T) {
	locks := New(8)
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("smith|2026-03-03")
			defer unlock()
			v := counter
			v++
			counter = v
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestStripedIndexStable(t *testing.T) {
	locks := New(0)
	assert.Len(t, locks.stripes, defaultStripes)
	assert.Equal(t, locks.index("a"), locks.index("a"))
}
