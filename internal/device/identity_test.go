package device

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRegisterReader serves canned register values, recording the order of
// reads so tests can assert which chip family won.
type fakeRegisterReader struct {
	values map[uint32]uint32
	reads  []uint32
}

func (f *fakeRegisterReader) ReadReg(ctx context.Context, addr uint32) (uint32, error) {
	f.reads = append(f.reads, addr)
	v, ok := f.values[addr]
	if !ok {
		return 0, errors.New("read failed")
	}
	return v, nil
}

func TestParseAndRender(t *testing.T) {
	id, err := Parse("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", id.String())
	assert.Equal(t, "AABBCCDDEEFF", id.Compact())

	_, err = Parse("AA:BB:CC:DD:EE")
	assert.ErrorIs(t, err, ErrInvalidIdentity)
	_, err = Parse("GG:BB:CC:DD:EE:FF")
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	compact, err := ParseCompact("aabbccddeeff")
	require.NoError(t, err)
	assert.Equal(t, id, compact)
}

func TestResolveFromS3Registers(t *testing.T) {
	// MAC bytes come out little-endian: word0 holds octets 0..3, word1
	// holds octets 4..5.
	reader := &fakeRegisterReader{values: map[uint32]uint32{
		0x60007044: 0xDDCCBBAA,
		0x60007048: 0x0000FFEE,
	}}
	resolver := NewResolver(reader, nil)

	id, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", id.String())
	assert.False(t, id.IsGenerated())
}

func TestResolveFallsBackToSecondFamily(t *testing.T) {
	reader := &fakeRegisterReader{values: map[uint32]uint32{
		0x3F41A048: 0x44332211,
		0x3F41A04C: 0x00006655,
	}}
	resolver := NewResolver(reader, nil)

	id, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "11:22:33:44:55:66", id.String())
	// Both S3 registers were attempted first.
	assert.Contains(t, reader.reads, uint32(0x60007044))
}

func TestResolveGeneratedIdentity(t *testing.T) {
	seeds := &FileSeedStore{Path: filepath.Join(t.TempDir(), "seed")}
	resolver := NewResolver(&fakeRegisterReader{}, seeds)

	id, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, id.IsGenerated(), "generated ids must carry the locally-administered bit")

	// Same seed store, same identity across sessions.
	again, err := NewResolver(nil, seeds).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestZeroRegistersTreatedAsUndefined(t *testing.T) {
	reader := &fakeRegisterReader{values: map[uint32]uint32{
		0x60007044: 0, 0x60007048: 0,
		0x3F41A048: 0, 0x3F41A04C: 0,
	}}
	id, err := NewResolver(reader, nil).Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, id.IsGenerated())
}
