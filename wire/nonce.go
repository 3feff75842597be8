package wire

import (
	"crypto/rand"
	"encoding/binary"
)

// Nonce is the 64-bit random value each outbound handshake proposes
// (spec.md §3). A peer echoing our own nonce back indicates a loopback
// self-connection.
type Nonce uint64

// NewNonce draws a cryptographically random nonce.
func NewNonce() Nonce {
	var buf [8]byte
	// crypto/rand.Read on a fixed-size buffer does not fail in practice;
	// a zero nonce degrades self-connect detection but never panics.
	_, _ = rand.Read(buf[:])
	return Nonce(binary.LittleEndian.Uint64(buf[:]))
}
