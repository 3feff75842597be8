package address

import (
	"os"
	"path/filepath"

	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/wire"
)

// FilePersister implements spec.md §6's address-pool persistence: a
// sequence of length-prefixed wire.AddressItem records, overwritten
// atomically via write-to-temp + rename.
type FilePersister struct {
	Path string
}

// Load reads every persisted record, or returns an empty slice if the
// file does not yet exist.
func (fp *FilePersister) Load() ([]wire.AddressItem, error) {
	buf, err := os.ReadFile(fp.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.FileLoad, err)
	}

	var items []wire.AddressItem
	for len(buf) > 0 {
		n, rest, ok := readLengthPrefix(buf)
		if !ok {
			return nil, errs.New(errs.FileLoad, "corrupt address file: short length prefix")
		}
		buf = rest
		if uint32(len(buf)) < n {
			return nil, errs.New(errs.FileLoad, "corrupt address file: truncated record")
		}
		item, _, err := wire.DecodeAddressItem(buf[:n])
		if err != nil {
			return nil, errs.Wrap(errs.FileLoad, err)
		}
		items = append(items, item)
		buf = buf[n:]
	}
	return items, nil
}

// Save overwrites the persisted file with items, atomically.
func (fp *FilePersister) Save(items []wire.AddressItem) error {
	dir := filepath.Dir(fp.Path)
	tmp, err := os.CreateTemp(dir, ".addr-*.tmp")
	if err != nil {
		return errs.Wrap(errs.FileSave, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	for _, item := range items {
		rec := wire.EncodeAddressItem(nil, item)
		if err := writeLengthPrefix(tmp, uint32(len(rec))); err != nil {
			tmp.Close()
			return errs.Wrap(errs.FileSave, err)
		}
		if _, err := tmp.Write(rec); err != nil {
			tmp.Close()
			return errs.Wrap(errs.FileSave, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.FileSave, err)
	}
	if err := os.Rename(tmpPath, fp.Path); err != nil {
		return errs.Wrap(errs.FileSave, err)
	}
	return nil
}

func writeLengthPrefix(w *os.File, n uint32) error {
	var buf [4]byte
	buf[0] = byte(n)
	buf[1] = byte(n >> 8)
	buf[2] = byte(n >> 16)
	buf[3] = byte(n >> 24)
	_, err := w.Write(buf[:])
	return err
}

func readLengthPrefix(buf []byte) (uint32, []byte, bool) {
	if len(buf) < 4 {
		return 0, buf, false
	}
	n := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	return n, buf[4:], true
}
