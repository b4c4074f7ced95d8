package store

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ulidEntropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	ulidEntropyMu sync.Mutex
)

// NewID returns a sortable identifier for history and ledger rows.
func NewID() string {
	ulidEntropyMu.Lock()
	defer ulidEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var (
	codeRand   = rand.New(rand.NewSource(time.Now().UnixNano()))
	codeRandMu sync.Mutex
)

// NewSessionCode returns a short human-friendly join code.
func NewSessionCode() string {
	codeRandMu.Lock()
	defer codeRandMu.Unlock()
	b := make([]byte, 6)
	for i := range b {
		b[i] = codeAlphabet[codeRand.Intn(len(codeAlphabet))]
	}
	return string(b)
}
