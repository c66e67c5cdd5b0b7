package snapshot

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/uci/internal/types"
)

func TestCodecRoundTrip(t *testing.T) {
	snap := validSnapshot()
	snap.Implementations = []Implementation{
		{Span: types.Span{File: "src/lib.x", Start: 90, End: 120},
			From: TargetRef{Unit: 0, Node: 1}, To: TargetRef{Unit: 1, Node: 3}},
	}
	snap.Relations = []Relation{
		{Kind: types.RelationSupertrait,
			Span: types.Span{File: "src/lib.x", Start: 130, End: 140},
			From: TargetRef{Unit: 0, Node: 1}, To: TargetRef{Unit: 1, Node: 4}},
	}
	snap.Definitions[0].Attributes = []string{"inline", "export"}
	snap.Definitions[0].Doc = "Runs the thing."

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, snap))

	decoded, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, snap, decoded)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, validSnapshot()))
	data := buf.Bytes()
	data[0] ^= 0xff

	_, err := Decode(bytes.NewReader(data))
	require.Error(t, err)
}

func TestDecodeDetectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, validSnapshot()))
	data := buf.Bytes()
	data[len(data)-1] ^= 0x01 // flip a body byte, checksum must catch it

	_, err := Decode(bytes.NewReader(data))
	require.ErrorContains(t, err, "checksum")
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, validSnapshot()))
	data := buf.Bytes()[:12]

	_, err := Decode(bytes.NewReader(data))
	require.Error(t, err)
}
