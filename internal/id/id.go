// Package id issues the position and entry identifiers. ULIDs sort by
// creation time, which keeps the snapshot and the SQLite archive naturally
// ordered without a separate sequence column.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// generator produces ULIDs that stay lexicographically increasing even for
// ids minted within the same millisecond.
type generator struct {
	mu   sync.Mutex
	mono io.Reader
	now  func() time.Time
}

func newGenerator(now func() time.Time) *generator {
	// Seed the entropy PRNG from crypto/rand so ids are unpredictable.
	var seed int64
	if err := binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed); err != nil || seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &generator{
		mono: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
		now:  now,
	}
}

func (g *generator) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(g.now().UTC()), g.mono)
	if err != nil {
		panic(err)
	}
	return id.String()
}

var defaultGenerator = newGenerator(time.Now)

// New returns a fresh creation-time-ordered identifier.
func New() string {
	return defaultGenerator.next()
}
