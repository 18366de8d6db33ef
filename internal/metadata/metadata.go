// Package metadata implements the key-vector configuration descriptor that
// selects and tunes a processing graph.
//
// A Metadata value carries a graph key vector (GKV) choosing the pipeline
// topology, a calibration key vector (CKV) tuning it, and optional sub-graph
// properties. Three layers exist per session/interface pair (session,
// session×interface, device) and every graph operation works on their merge.
package metadata

import (
	"fmt"
	"slices"
	"strings"
)

// KV is one key/value pair of a key vector
type KV struct {
	Key   uint32 `json:"key" yaml:"key"`
	Value uint32 `json:"value" yaml:"value"`
}

// Property is a sub-graph property: an id and its value list
type Property struct {
	ID     uint32   `json:"id" yaml:"id"`
	Values []uint32 `json:"values" yaml:"values"`
}

// Metadata is a configuration descriptor. Treat it as a value: Merge and
// Clone never share backing arrays with their inputs.
type Metadata struct {
	GKV   []KV       `json:"gkv,omitempty" yaml:"gkv,omitempty"`
	CKV   []KV       `json:"ckv,omitempty" yaml:"ckv,omitempty"`
	Props []Property `json:"props,omitempty" yaml:"props,omitempty"`
}

// Merge concatenates the key vectors and properties of the non-nil sources
// in call order. Duplicate keys are kept as they are.
func Merge(sources ...*Metadata) *Metadata {
	var nGKV, nCKV, nProps int
	for _, src := range sources {
		if src == nil {
			continue
		}
		nGKV += len(src.GKV)
		nCKV += len(src.CKV)
		nProps += len(src.Props)
	}

	merged := &Metadata{
		GKV:   make([]KV, 0, nGKV),
		CKV:   make([]KV, 0, nCKV),
		Props: make([]Property, 0, nProps),
	}
	for _, src := range sources {
		if src == nil {
			continue
		}
		merged.GKV = append(merged.GKV, src.GKV...)
		merged.CKV = append(merged.CKV, src.CKV...)
		for _, p := range src.Props {
			merged.Props = append(merged.Props, Property{ID: p.ID, Values: slices.Clone(p.Values)})
		}
	}
	return merged
}

// Clone returns a deep copy; a nil receiver yields an empty Metadata
func (m *Metadata) Clone() *Metadata {
	return Merge(m)
}

// Empty reports whether m carries no keys and no properties
func (m *Metadata) Empty() bool {
	return m == nil || (len(m.GKV) == 0 && len(m.CKV) == 0 && len(m.Props) == 0)
}

// Copy replaces the content of m with the decoded blob.
// On error m is left untouched.
func (m *Metadata) Copy(blob []byte) error {
	decoded, err := Decode(blob)
	if err != nil {
		return err
	}
	*m = *decoded
	return nil
}

// Replace sets the content of m to a deep copy of src
func (m *Metadata) Replace(src *Metadata) {
	*m = *src.Clone()
}

// UpdateCal applies a calibration change in place: keys already present in
// the CKV take the new value, unknown keys are appended in order.
func (m *Metadata) UpdateCal(ckv []KV) {
	for _, kv := range ckv {
		idx := slices.IndexFunc(m.CKV, func(existing KV) bool { return existing.Key == kv.Key })
		if idx >= 0 {
			m.CKV[idx].Value = kv.Value
			continue
		}
		m.CKV = append(m.CKV, kv)
	}
}

// String renders the key vectors for logs
func (m *Metadata) String() string {
	if m == nil {
		return "<nil>"
	}
	var b strings.Builder
	writeKV := func(name string, kvs []KV) {
		b.WriteString(name)
		b.WriteByte('[')
		for i, kv := range kvs {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%#x=%#x", kv.Key, kv.Value)
		}
		b.WriteByte(']')
	}
	writeKV("gkv", m.GKV)
	b.WriteByte(' ')
	writeKV("ckv", m.CKV)
	if len(m.Props) > 0 {
		fmt.Fprintf(&b, " props=%d", len(m.Props))
	}
	return b.String()
}
