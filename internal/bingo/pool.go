package bingo

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
)

// Shuffler returns the draw order for a fresh pool of 1..size.
type Shuffler func(size int) []int

// SecureShuffle seeds a ChaCha8 stream from the OS so no two sessions share
// an order.
func SecureShuffle(size int) []int {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		binary.LittleEndian.PutUint64(seed[:], rand.Uint64())
	}
	return ShuffleWith(rand.New(rand.NewChaCha8(seed)), size)
}

func ShuffleWith(rnd *rand.Rand, size int) []int {
	pool := make([]int, size)
	for i := range pool {
		pool[i] = i + 1
	}
	rnd.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	return pool
}

// Sequential is a deterministic shuffler for tests and replays.
func Sequential(size int) []int {
	pool := make([]int, size)
	for i := range pool {
		pool[i] = i + 1
	}
	return pool
}
