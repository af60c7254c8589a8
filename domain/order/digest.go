package order

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Digest is the integrity fingerprint stamped on every order:
//
//	xxhash64(name) ^ stock id ^ price ^ kind ordinal
type Digest uint64

func ComputeDigest(s StockRef, k Kind) Digest {
	return Digest(xxhash.Sum64String(s.Name) ^ uint64(s.ID) ^ uint64(s.Price) ^ uint64(k))
}

func (d Digest) String() string {
	return strconv.FormatUint(uint64(d), 16)
}
