package testsupport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextSequence_Increments(t *testing.T) {
	seq1 := NextSequence()
	seq2 := NextSequence()
	seq3 := NextSequence()

	assert.Greater(t, seq2, seq1, "Sequence should increment")
	assert.Equal(t, seq1+1, seq2, "Should increment by 1")
	assert.Equal(t, seq2+1, seq3, "Should increment by 1")
}

func TestUniqueName_GeneratesUnique(t *testing.T) {
	name1 := UniqueName("tmp_snapshots")
	name2 := UniqueName("tmp_snapshots")

	assert.NotEqual(t, name1, name2, "Names should be unique")
	assert.Contains(t, name1, "tmp_snapshots_", "Should contain prefix")
}

func TestUniqueBatchID_ConcurrentUnique(t *testing.T) {
	const n = 200
	var (
		mu   sync.Mutex
		seen = make(map[string]bool, n)
		wg   sync.WaitGroup
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := UniqueBatchID()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n, "All batch ids should be unique")
}
