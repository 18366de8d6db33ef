package metadata

import (
	"encoding/binary"

	"github.com/tphakala/agm/internal/errors"
)

// ComponentMetadata identifies errors from this package
const ComponentMetadata = "metadata"

// MaxEntries bounds every vector and property list in a decoded blob
const MaxEntries = 1024

var (
	// ErrMalformed is returned for truncated or inconsistent blobs
	ErrMalformed = errors.New(nil).
			Component(ComponentMetadata).
			Category(errors.CategoryValidation).
			Context("resource", "metadata_blob").
			Build()

	// ErrTooLarge is returned when a blob declares more entries than MaxEntries
	ErrTooLarge = errors.New(nil).
			Component(ComponentMetadata).
			Category(errors.CategoryResource).
			Context("resource", "metadata_blob").
			Build()
)

// Encode serializes m in the little-endian word layout accepted by Decode:
//
//	u32 n_gkv, n_gkv*(u32 key, u32 value)
//	u32 n_ckv, n_ckv*(u32 key, u32 value)
//	u32 n_props, n_props*(u32 id, u32 n, n*u32)
func (m *Metadata) Encode() []byte {
	if m == nil {
		m = &Metadata{}
	}
	size := 4 * (3 + 2*len(m.GKV) + 2*len(m.CKV))
	for _, p := range m.Props {
		size += 4 * (2 + len(p.Values))
	}

	buf := make([]byte, 0, size)
	buf = appendKVs(buf, m.GKV)
	buf = appendKVs(buf, m.CKV)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.Props)))
	for _, p := range m.Props {
		buf = binary.LittleEndian.AppendUint32(buf, p.ID)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.Values)))
		for _, v := range p.Values {
			buf = binary.LittleEndian.AppendUint32(buf, v)
		}
	}
	return buf
}

func appendKVs(buf []byte, kvs []KV) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(kvs)))
	for _, kv := range kvs {
		buf = binary.LittleEndian.AppendUint32(buf, kv.Key)
		buf = binary.LittleEndian.AppendUint32(buf, kv.Value)
	}
	return buf
}

// Decode parses a blob produced by Encode. An empty blob decodes to an
// empty Metadata.
func Decode(blob []byte) (*Metadata, error) {
	m := &Metadata{}
	if len(blob) == 0 {
		return m, nil
	}

	r := wordReader{buf: blob}
	var err error
	if m.GKV, err = r.kvs("gkv"); err != nil {
		return nil, err
	}
	if m.CKV, err = r.kvs("ckv"); err != nil {
		return nil, err
	}

	n, err := r.count("props")
	if err != nil {
		return nil, err
	}
	if n > 0 {
		m.Props = make([]Property, 0, n)
	}
	for range n {
		id, err := r.word("prop_id")
		if err != nil {
			return nil, err
		}
		nv, err := r.count("prop_values")
		if err != nil {
			return nil, err
		}
		p := Property{ID: id, Values: make([]uint32, nv)}
		for i := range p.Values {
			if p.Values[i], err = r.word("prop_value"); err != nil {
				return nil, err
			}
		}
		m.Props = append(m.Props, p)
	}

	if r.off != len(blob) {
		return nil, errors.New(ErrMalformed).
			Component(ComponentMetadata).
			Context("trailing_bytes", len(blob)-r.off).
			Build()
	}
	return m, nil
}

type wordReader struct {
	buf []byte
	off int
}

func (r *wordReader) word(field string) (uint32, error) {
	if len(r.buf)-r.off < 4 {
		return 0, errors.New(ErrMalformed).
			Component(ComponentMetadata).
			Context("field", field).
			Context("offset", r.off).
			Build()
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *wordReader) count(field string) (int, error) {
	n, err := r.word(field)
	if err != nil {
		return 0, err
	}
	if n > MaxEntries {
		return 0, errors.New(ErrTooLarge).
			Component(ComponentMetadata).
			Context("field", field).
			Context("count", n).
			Build()
	}
	return int(n), nil
}

func (r *wordReader) kvs(field string) ([]KV, error) {
	n, err := r.count(field)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	kvs := make([]KV, n)
	for i := range kvs {
		if kvs[i].Key, err = r.word(field); err != nil {
			return nil, err
		}
		if kvs[i].Value, err = r.word(field); err != nil {
			return nil, err
		}
	}
	return kvs, nil
}
