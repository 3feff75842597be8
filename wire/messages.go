package wire

// Version is the version handshake message (spec.md §4.7's
// version_31402/70001/70002 share this payload shape; later variants add
// the Relay field and stricter service checks at the protocol layer, not
// the wire layer).
type Version struct {
	ProtocolVersion  int32
	Services         uint64
	Timestamp        int64
	ReceiverServices uint64
	ReceiverIP       [16]byte
	ReceiverPort     uint16
	SenderServices   uint64
	SenderIP         [16]byte
	SenderPort       uint16
	Nonce            Nonce
	UserAgent        string
	StartHeight      int32
	Relay            bool // only sent/read when ProtocolVersion >= 70001
}

func (v Version) Encode() []byte {
	buf := make([]byte, 0, 128)
	buf = appendUint32LE(buf, uint32(v.ProtocolVersion))
	buf = appendUint64LE(buf, v.Services)
	buf = appendUint64LE(buf, uint64(v.Timestamp))
	buf = appendUint64LE(buf, v.ReceiverServices)
	buf = append(buf, v.ReceiverIP[:]...)
	buf = appendUint16LE(buf, v.ReceiverPort)
	buf = appendUint64LE(buf, v.SenderServices)
	buf = append(buf, v.SenderIP[:]...)
	buf = appendUint16LE(buf, v.SenderPort)
	buf = appendUint64LE(buf, uint64(v.Nonce))
	buf = appendVarStr(buf, v.UserAgent)
	buf = appendUint32LE(buf, uint32(v.StartHeight))
	if v.ProtocolVersion >= 70001 {
		relay := byte(0)
		if v.Relay {
			relay = 1
		}
		buf = append(buf, relay)
	}
	return buf
}

func DecodeVersion(buf []byte) (Version, error) {
	var v Version
	need := func(n int) error {
		if len(buf) < n {
			return ErrShortBuffer
		}
		return nil
	}
	if err := need(4); err != nil {
		return v, err
	}
	v.ProtocolVersion = int32(readUint32LE(buf[0:4]))
	buf = buf[4:]
	if err := need2(buf, 8); err != nil {
		return v, err
	}
	v.Services = readUint64LE(buf[0:8])
	buf = buf[8:]
	if err := need2(buf, 8); err != nil {
		return v, err
	}
	v.Timestamp = int64(readUint64LE(buf[0:8]))
	buf = buf[8:]
	if err := need2(buf, 26); err != nil {
		return v, err
	}
	v.ReceiverServices = readUint64LE(buf[0:8])
	copy(v.ReceiverIP[:], buf[8:24])
	v.ReceiverPort = readUint16LE(buf[24:26])
	buf = buf[26:]
	if err := need2(buf, 26); err != nil {
		return v, err
	}
	v.SenderServices = readUint64LE(buf[0:8])
	copy(v.SenderIP[:], buf[8:24])
	v.SenderPort = readUint16LE(buf[24:26])
	buf = buf[26:]
	if err := need2(buf, 8); err != nil {
		return v, err
	}
	v.Nonce = Nonce(readUint64LE(buf[0:8]))
	buf = buf[8:]
	var err error
	v.UserAgent, buf, err = readVarStr(buf)
	if err != nil {
		return v, err
	}
	if err := need2(buf, 4); err != nil {
		return v, err
	}
	v.StartHeight = int32(readUint32LE(buf[0:4]))
	buf = buf[4:]
	if v.ProtocolVersion >= 70001 && len(buf) >= 1 {
		v.Relay = buf[0] != 0
	}
	return v, nil
}

func need2(buf []byte, n int) error {
	if len(buf) < n {
		return ErrShortBuffer
	}
	return nil
}

// VerAck is the empty-payload handshake acknowledgement.
type VerAck struct{}

func (VerAck) Encode() []byte { return nil }

// Ping carries the nonce used by ping_60001 (spec.md §4.7). ping_31402
// sends a wire-level empty payload instead and does not use this type.
type Ping struct{ Nonce Nonce }

func (p Ping) Encode() []byte { return appendUint64LE(nil, uint64(p.Nonce)) }

func DecodePing(buf []byte) (Ping, error) {
	if len(buf) < 8 {
		return Ping{}, nil // legacy silent ping: empty payload is valid
	}
	return Ping{Nonce: Nonce(readUint64LE(buf[0:8]))}, nil
}

// Pong echoes the ping nonce.
type Pong struct{ Nonce Nonce }

func (p Pong) Encode() []byte { return appendUint64LE(nil, uint64(p.Nonce)) }

func DecodePong(buf []byte) (Pong, error) {
	if err := need2(buf, 8); err != nil {
		return Pong{}, err
	}
	return Pong{Nonce: Nonce(readUint64LE(buf[0:8]))}, nil
}

// Addr carries gossiped AddressItems, at most 1000 per spec.md §4.7.
type Addr struct{ Items []AddressItem }

func (a Addr) Encode() []byte {
	buf := appendVarInt(nil, uint64(len(a.Items)))
	for _, it := range a.Items {
		buf = EncodeAddressItem(buf, it)
	}
	return buf
}

func DecodeAddr(buf []byte) (Addr, error) {
	n, rest, err := readVarInt(buf)
	if err != nil {
		return Addr{}, err
	}
	items := make([]AddressItem, 0, n)
	for i := uint64(0); i < n; i++ {
		var it AddressItem
		it, rest, err = DecodeAddressItem(rest)
		if err != nil {
			return Addr{}, err
		}
		items = append(items, it)
	}
	return Addr{Items: items}, nil
}

// GetAddr is an empty-payload request for peer addresses.
type GetAddr struct{}

func (GetAddr) Encode() []byte { return nil }

// Reject carries the peer's structured rejection of a prior message
// (spec.md §4.7: "log only"; see SPEC_FULL.md §10 for why the decoded
// form is still available to IDReject subscribers).
type Reject struct {
	Message string
	Code    byte
	Reason  string
	Data    []byte
}

func (r Reject) Encode() []byte {
	buf := appendVarStr(nil, r.Message)
	buf = append(buf, r.Code)
	buf = appendVarStr(buf, r.Reason)
	buf = append(buf, r.Data...)
	return buf
}

func DecodeReject(buf []byte) (Reject, error) {
	var r Reject
	var err error
	r.Message, buf, err = readVarStr(buf)
	if err != nil {
		return r, err
	}
	if err := need2(buf, 1); err != nil {
		return r, err
	}
	r.Code = buf[0]
	buf = buf[1:]
	r.Reason, buf, err = readVarStr(buf)
	if err != nil {
		return r, err
	}
	r.Data = append([]byte(nil), buf...)
	return r, nil
}

// Alert is deprecated (spec.md §4.7: "parse and discard"); only the raw
// envelope is kept.
type Alert struct {
	Payload   []byte
	Signature []byte
}

func (a Alert) Encode() []byte {
	buf := appendVarInt(nil, uint64(len(a.Payload)))
	buf = append(buf, a.Payload...)
	buf = appendVarInt(buf, uint64(len(a.Signature)))
	buf = append(buf, a.Signature...)
	return buf
}

func DecodeAlert(buf []byte) (Alert, error) {
	var a Alert
	n, rest, err := readVarInt(buf)
	if err != nil {
		return a, err
	}
	if uint64(len(rest)) < n {
		return a, ErrShortBuffer
	}
	a.Payload, rest = rest[:n], rest[n:]
	n, rest, err = readVarInt(rest)
	if err != nil {
		return a, err
	}
	if uint64(len(rest)) < n {
		return a, ErrShortBuffer
	}
	a.Signature = rest[:n]
	return a, nil
}

// RawMessage is what unclassified commands decode to, forwarded to the
// channel's generic "unknown message" subscriber (spec.md §4.6).
type RawMessage struct {
	Command [12]byte
	Payload []byte
}

func (r RawMessage) CommandString() string { return commandString(r.Command) }
