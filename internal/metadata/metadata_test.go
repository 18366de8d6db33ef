package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(base uint32) *Metadata {
	return &Metadata{
		GKV:   []KV{{Key: base + 1, Value: base + 10}},
		CKV:   []KV{{Key: base + 2, Value: base + 20}},
		Props: []Property{{ID: base + 3, Values: []uint32{base + 30, base + 31}}},
	}
}

func TestMergeConcatenatesInCallOrder(t *testing.T) {
	t.Parallel()

	sess, aif, dev := sample(0x100), sample(0x200), sample(0x300)
	merged := Merge(sess, aif, dev)

	assert.Equal(t, []KV{{0x101, 0x10a}, {0x201, 0x20a}, {0x301, 0x30a}}, merged.GKV)
	assert.Equal(t, []KV{{0x102, 0x114}, {0x202, 0x214}, {0x302, 0x314}}, merged.CKV)
	require.Len(t, merged.Props, 3)
	assert.Equal(t, uint32(0x203), merged.Props[1].ID)
}

func TestMergeSkipsNilSources(t *testing.T) {
	t.Parallel()

	merged := Merge(nil, sample(1), nil)
	assert.Equal(t, sample(1), merged)

	empty := Merge()
	assert.True(t, empty.Empty())
}

func TestMergeKeepsDuplicateKeys(t *testing.T) {
	t.Parallel()

	a := &Metadata{GKV: []KV{{Key: 0xA, Value: 1}}}
	b := &Metadata{GKV: []KV{{Key: 0xA, Value: 2}}}

	merged := Merge(a, b)
	assert.Equal(t, []KV{{0xA, 1}, {0xA, 2}}, merged.GKV)
}

// Merging must never alias or mutate its inputs.
func TestMergeIsPure(t *testing.T) {
	t.Parallel()

	a, b := sample(0x10), sample(0x20)
	aBefore, bBefore := a.Clone(), b.Clone()

	merged := Merge(a, b)
	merged.GKV[0].Value = 0xdead
	merged.CKV[1].Value = 0xbeef
	merged.Props[0].Values[0] = 0xf00d
	merged.UpdateCal([]KV{{Key: 0x12, Value: 0}})

	assert.Equal(t, aBefore, a)
	assert.Equal(t, bBefore, b)
}

func TestCloneOfNil(t *testing.T) {
	t.Parallel()

	var m *Metadata
	c := m.Clone()
	require.NotNil(t, c)
	assert.True(t, c.Empty())
}

func TestUpdateCal(t *testing.T) {
	t.Parallel()

	m := &Metadata{CKV: []KV{{Key: 1, Value: 10}, {Key: 2, Value: 20}}}
	m.UpdateCal([]KV{{Key: 2, Value: 99}, {Key: 3, Value: 30}})

	assert.Equal(t, []KV{{1, 10}, {2, 99}, {3, 30}}, m.CKV)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	m := Merge(sample(0x1000), sample(0x2000))
	decoded, err := Decode(m.Encode())
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestCopyReplacesContent(t *testing.T) {
	t.Parallel()

	m := sample(1)
	replacement := &Metadata{GKV: []KV{{Key: 0xAB, Value: 0xCD}}}

	require.NoError(t, m.Copy(replacement.Encode()))
	assert.Equal(t, []KV{{0xAB, 0xCD}}, m.GKV)
	assert.Empty(t, m.CKV)
	assert.Empty(t, m.Props)

	require.NoError(t, m.Copy(nil))
	assert.True(t, m.Empty())
}

func TestCopyErrorLeavesReceiverUntouched(t *testing.T) {
	t.Parallel()

	m := sample(1)
	blob := sample(2).Encode()

	err := m.Copy(blob[:len(blob)-2])
	require.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, sample(1), m)
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	tooMany := (&Metadata{}).Encode()
	tooMany[0] = 0xff
	tooMany[1] = 0xff

	trailing := append(sample(1).Encode(), 0, 0, 0, 0)

	tests := []struct {
		name string
		blob []byte
		want error
	}{
		{"truncated header", []byte{1, 0}, ErrMalformed},
		{"count over limit", tooMany, ErrTooLarge},
		{"trailing bytes", trailing, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.blob)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestString(t *testing.T) {
	t.Parallel()

	m := &Metadata{GKV: []KV{{Key: 0xA1000000, Value: 0xA1000001}}}
	assert.Equal(t, "gkv[0xa1000000=0xa1000001] ckv[]", m.String())
	var nilMD *Metadata
	assert.Equal(t, "<nil>", nilMD.String())
}
