package percentile

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
)

// keyPrecision is the number of decimals inputs are rounded to before keying
const keyPrecision = 4

// Cache memoizes ranking results under an LRU bound. Safe for concurrent use.
type Cache[V any] struct {
	entries *lru.Cache[string, V]
}

// NewCache creates a cache holding at most size entries
func NewCache[V any](size int) (*Cache[V], error) {
	if size <= 0 {
		size = 1
	}
	entries, err := lru.New[string, V](size)
	if err != nil {
		return nil, err
	}
	return &Cache[V]{entries: entries}, nil
}

func (c *Cache[V]) Get(key string) (V, bool) {
	return c.entries.Get(key)
}

func (c *Cache[V]) Add(key string, v V) {
	c.entries.Add(key, v)
}

func (c *Cache[V]) Len() int {
	return c.entries.Len()
}

// Key joins the scope parts with inputs rounded to keyPrecision decimals, so
// float noise below the rounding step maps to the same entry.
func Key(scope []string, values ...float64) string {
	parts := make([]string, 0, len(scope)+len(values))
	parts = append(parts, scope...)
	for _, v := range values {
		parts = append(parts, decimal.NewFromFloat(v).Round(keyPrecision).String())
	}
	return strings.Join(parts, "|")
}
