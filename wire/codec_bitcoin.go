package wire

import (
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BitcoinCodec implements Codec for the eight messages the core consumes
// directly. The checksum is the Bitcoin wire checksum — the first four
// bytes of a double SHA-256 of the payload — computed with
// chainhash.DoubleHashB, the canonical Go implementation of that hash
// (spec.md §4.5's "double-hash of the payload").
type BitcoinCodec struct {
	Magic uint32
}

// NewBitcoinCodec builds a codec for the given network magic.
func NewBitcoinCodec(magic uint32) *BitcoinCodec {
	return &BitcoinCodec{Magic: magic}
}

func (c *BitcoinCodec) ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	var h Header
	h.Magic = readUint32LE(buf[0:4])
	copy(h.Command[:], buf[4:16])
	h.Length = readUint32LE(buf[16:20])
	h.Checksum = readUint32LE(buf[20:24])
	return h, nil
}

func (c *BitcoinCodec) ReadPayload(r io.Reader, h Header) ([]byte, error) {
	buf := make([]byte, h.Length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func checksum(payload []byte) uint32 {
	sum := chainhash.DoubleHashB(payload)
	return readUint32LE(sum[:4])
}

func (c *BitcoinCodec) Verify(h Header, payload []byte) bool {
	if h.Magic != c.Magic {
		return false
	}
	return checksum(payload) == h.Checksum
}

func (c *BitcoinCodec) VerifyMagic(h Header) bool {
	return h.Magic == c.Magic
}

func (c *BitcoinCodec) Encode(id Identifier, payload []byte) ([]byte, error) {
	buf := make([]byte, 0, HeaderSize+len(payload))
	buf = appendUint32LE(buf, c.Magic)
	cmd := commandBytes(id)
	buf = append(buf, cmd[:]...)
	buf = appendUint32LE(buf, uint32(len(payload)))
	buf = appendUint32LE(buf, checksum(payload))
	buf = append(buf, payload...)
	return buf, nil
}

func (c *BitcoinCodec) Classify(command [12]byte) (Identifier, bool) {
	return ClassifyCommand(command)
}

func (c *BitcoinCodec) Decode(id Identifier, payload []byte) (any, error) {
	switch id {
	case IDVersion:
		return DecodeVersion(payload)
	case IDVerAck:
		return VerAck{}, nil
	case IDPing:
		return DecodePing(payload)
	case IDPong:
		return DecodePong(payload)
	case IDAddr:
		return DecodeAddr(payload)
	case IDGetAddr:
		return GetAddr{}, nil
	case IDReject:
		return DecodeReject(payload)
	case IDAlert:
		return DecodeAlert(payload)
	default:
		return nil, fmt.Errorf("wire: no decoder for identifier %q", id)
	}
}
