package block

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// HashSize is the length of a block identifier in bytes.
const HashSize = 32

// Hash is the content-derived identifier of a block.
type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) Bytes() []byte {
	return h[:]
}

// HashFromBytes converts a raw byte slice into a Hash.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash length: %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Block is the unit buffered by the queue: a chain position, a content
// identifier and an opaque payload the queue stores and returns unchanged.
// Number is assigned by the producing subsystem before enqueue and never
// reassigned.
type Block struct {
	Number  uint64 `json:"number"`
	Hash    Hash   `json:"hash"`
	Payload []byte `json:"payload"`
}

// New builds a block whose hash is computed over number and payload.
// Network receivers that already carry a wire-level hash should fill the
// struct directly instead.
func New(number uint64, payload []byte) *Block {
	return &Block{
		Number:  number,
		Hash:    ComputeHash(number, payload),
		Payload: payload,
	}
}

// ComputeHash derives a block identifier from its number and payload.
func ComputeHash(number uint64, payload []byte) Hash {
	h := sha256.New()
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, number)
	h.Write(buf)
	h.Write(payload)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
