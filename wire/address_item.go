package wire

// AddressItem is the wire-and-storage form of one gossiped peer address
// (spec.md §3): { timestamp, services, ip[16], port }. Wire form and
// storage form are identical, so AddressItem doubles as the address pool's
// persisted record.
type AddressItem struct {
	Timestamp uint32
	Services  uint64
	IP        [16]byte
	Port      uint16
}

// Authority extracts the (IP, port) identity from the item, discarding
// timestamp/services.
func (a AddressItem) Authority() Authority {
	return Authority{ip: a.IP, port: a.Port}
}

// AddressItemFromAuthority builds an AddressItem for gossip/persistence
// from an Authority plus the metadata the wire format also carries.
func AddressItemFromAuthority(auth Authority, services uint64, timestamp uint32) AddressItem {
	return AddressItem{
		Timestamp: timestamp,
		Services:  services,
		IP:        auth.Bytes(),
		Port:      auth.Port(),
	}
}

const addressItemSize = 4 + 8 + 16 + 2

// EncodeAddressItem writes the fixed 30-byte wire form.
func EncodeAddressItem(buf []byte, a AddressItem) []byte {
	buf = appendUint32LE(buf, a.Timestamp)
	buf = appendUint64LE(buf, a.Services)
	buf = append(buf, a.IP[:]...)
	buf = appendUint16LE(buf, a.Port)
	return buf
}

// DecodeAddressItem reads the fixed 30-byte wire form, returning the
// remaining unconsumed bytes of buf.
func DecodeAddressItem(buf []byte) (AddressItem, []byte, error) {
	if len(buf) < addressItemSize {
		return AddressItem{}, buf, ErrShortBuffer
	}
	var a AddressItem
	a.Timestamp = readUint32LE(buf[0:4])
	a.Services = readUint64LE(buf[4:12])
	copy(a.IP[:], buf[12:28])
	a.Port = readUint16LE(buf[28:30])
	return a, buf[addressItemSize:], nil
}
