// Package bingo holds the game rules: card layouts, winning patterns and the
// called-number pool.
package bingo

import (
	"fmt"
	"math/rand"

	lru "github.com/hashicorp/golang-lru"
)

const (
	Size     = 5
	Cells    = Size * Size
	FreeCell = Cells / 2
	MaxBall  = 75
)

// Layout is a card in row-major order. The free centre cell holds 0.
type Layout [Cells]int

// Column returns the B-I-N-G-O column a ball belongs to.
func Column(n int) int {
	return (n - 1) / 15
}

func (l Layout) Rows() [Size][Size]int {
	var out [Size][Size]int
	for i, n := range l {
		out[i/Size][i%Size] = n
	}
	return out
}

func (l Layout) Contains(n int) bool {
	for _, v := range l {
		if v == n && n != 0 {
			return true
		}
	}
	return false
}

// GenerateLayout derives the layout for a card number. The same number always
// yields the same card so the catalogue needs no storage.
func GenerateLayout(cardNo int) Layout {
	rnd := rand.New(rand.NewSource(int64(cardNo)*7919 + 17))
	var out Layout
	for col := 0; col < Size; col++ {
		picks := rnd.Perm(15)[:Size]
		for row := 0; row < Size; row++ {
			out[row*Size+col] = col*15 + picks[row] + 1
		}
	}
	out[FreeCell] = 0
	return out
}

// Catalog serves layouts for a fixed range of card numbers.
type Catalog struct {
	count int
	cache *lru.Cache
}

func NewCatalog(count, cacheSize int) (*Catalog, error) {
	if count <= 0 {
		return nil, fmt.Errorf("card count must be positive, got %d", count)
	}
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Catalog{count: count, cache: cache}, nil
}

func (c *Catalog) Count() int { return c.count }

func (c *Catalog) Valid(cardNo int) bool {
	return cardNo >= 1 && cardNo <= c.count
}

func (c *Catalog) Layout(cardNo int) Layout {
	if v, ok := c.cache.Get(cardNo); ok {
		return v.(Layout)
	}
	l := GenerateLayout(cardNo)
	c.cache.Add(cardNo, l)
	return l
}
