package wire

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned by decoders when buf is shorter than the
// fixed-size field layout requires.
var ErrShortBuffer = errors.New("wire: short buffer")

func appendUint16LE(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32LE(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64LE(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readUint16LE(buf []byte) uint16 { return binary.LittleEndian.Uint16(buf) }
func readUint32LE(buf []byte) uint32 { return binary.LittleEndian.Uint32(buf) }
func readUint64LE(buf []byte) uint64 { return binary.LittleEndian.Uint64(buf) }

// appendVarInt writes Bitcoin's CompactSize varint encoding.
func appendVarInt(buf []byte, v uint64) []byte {
	switch {
	case v < 0xfd:
		return append(buf, byte(v))
	case v <= 0xffff:
		buf = append(buf, 0xfd)
		return appendUint16LE(buf, uint16(v))
	case v <= 0xffffffff:
		buf = append(buf, 0xfe)
		return appendUint32LE(buf, uint32(v))
	default:
		buf = append(buf, 0xff)
		return appendUint64LE(buf, v)
	}
}

func readVarInt(buf []byte) (uint64, []byte, error) {
	if len(buf) < 1 {
		return 0, buf, ErrShortBuffer
	}
	switch b := buf[0]; {
	case b < 0xfd:
		return uint64(b), buf[1:], nil
	case b == 0xfd:
		if len(buf) < 3 {
			return 0, buf, ErrShortBuffer
		}
		return uint64(readUint16LE(buf[1:3])), buf[3:], nil
	case b == 0xfe:
		if len(buf) < 5 {
			return 0, buf, ErrShortBuffer
		}
		return uint64(readUint32LE(buf[1:5])), buf[5:], nil
	default:
		if len(buf) < 9 {
			return 0, buf, ErrShortBuffer
		}
		return readUint64LE(buf[1:9]), buf[9:], nil
	}
}

// appendVarStr writes a CompactSize-length-prefixed string.
func appendVarStr(buf []byte, s string) []byte {
	buf = appendVarInt(buf, uint64(len(s)))
	return append(buf, s...)
}

func readVarStr(buf []byte) (string, []byte, error) {
	n, rest, err := readVarInt(buf)
	if err != nil {
		return "", buf, err
	}
	if uint64(len(rest)) < n {
		return "", buf, ErrShortBuffer
	}
	return string(rest[:n]), rest[n:], nil
}
