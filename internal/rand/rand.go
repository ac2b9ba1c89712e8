// Package rand generates request identifiers for the feed RPC layer.
// It is seeded from crypto/rand but runs on a PCG generator, since the
// identifiers only need to be unique per connection, not unguessable.
package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var (
	mu  sync.Mutex
	rng = newRNG()
)

func newRNG() *rand.Rand {
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		panic("unreachable")
	}
	return rand.New(rand.NewPCG(
		binary.LittleEndian.Uint64(seed[:8]),
		binary.LittleEndian.Uint64(seed[8:]),
	))
}

// String returns a random identifier of length n drawn from a reduced
// base64 charset.
func String(n int) string {
	b := make([]byte, n)

	mu.Lock()
	defer mu.Unlock()
	for i := range b {
		b[i] = charset[rng.IntN(len(charset))]
	}

	return string(b)
}
