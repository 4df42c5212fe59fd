package core

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
)

// DrawBlueprints deterministically selects capacity distinct blueprint ids
// from the pool using the delivered random seed. The draw is a partial
// Fisher-Yates: step i hashes (seed, i) into an index over the not yet drawn
// remainder and swap-removes the selection, so the result is unbiased and
// every selection is distinct. Callers must guarantee len(pool) >= capacity.
func DrawBlueprints(seed *big.Int, pool []uint64, capacity uint32) ([]uint64, error) {
	m := uint64(len(pool))
	if uint64(capacity) > m {
		return nil, fmt.Errorf("draw %d from pool of %d", capacity, m)
	}
	// Seeds are uint256 on the wire; reduce anything else into range before
	// serializing to the fixed 32-byte hash input.
	seed = new(big.Int).Mod(seed, seedModulus)
	remaining := append([]uint64(nil), pool...)
	drawn := make([]uint64, 0, capacity)
	for i := uint64(0); i < uint64(capacity); i++ {
		idx := drawIndex(seed, i, m-i)
		drawn = append(drawn, remaining[idx])
		remaining[idx] = remaining[m-i-1]
	}
	return drawn, nil
}

var seedModulus = new(big.Int).Lsh(big.NewInt(1), 256)

// drawIndex derives the step-i pseudorandom index over a remainder of size n:
// the first 8 bytes of SHA-256(seed as 32-byte big-endian, i as 8-byte
// big-endian), reduced mod n.
func drawIndex(seed *big.Int, i, n uint64) uint64 {
	var buf [40]byte
	seed.FillBytes(buf[:32])
	binary.BigEndian.PutUint64(buf[32:], i)
	sum := sha256.Sum256(buf[:])
	return binary.BigEndian.Uint64(sum[:8]) % n
}
