package license

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashgate/internal/device"
	"flashgate/internal/kv"
	"flashgate/internal/token"
)

func testValidator(t *testing.T, keys KeySource) (*Validator, *Store) {
	t.Helper()
	store := NewStore(kv.NewMemoryStore())
	codec := token.NewCodec("test-secret", 0)
	return NewValidator(keys, store, codec, slog.Default()), store
}

func mustIdentity(t *testing.T, s string) device.Identity {
	t.Helper()
	id, err := device.Parse(s)
	require.NoError(t, err)
	return id
}

func TestNormalizeAndFormat(t *testing.T) {
	assert.Equal(t, "ABCD-EFGH-1234-5678", NormalizeKey("  abcd-efgh-1234-5678 "))
	assert.Equal(t, "ABCD-EFGH-1234-5678", NormalizeKey("ABCD-EFGH- 1234-5678"))

	assert.True(t, ValidKeyFormat("ABCD-EFGH-1234-5678"))
	assert.False(t, ValidKeyFormat("ABCD-EFGH-1234"))
	assert.False(t, ValidKeyFormat("ABCDEFGH12345678"))
	assert.False(t, ValidKeyFormat("ABCD-EFGH-1234-567!"))
	assert.False(t, ValidKeyFormat(""))
}

func TestActivationBindsKeyToDevice(t *testing.T) {
	validator, store := testValidator(t, NewStaticKeySource([]string{"ABCD-EFGH-1234-5678"}, nil))
	ctx := context.Background()
	deviceA := mustIdentity(t, "AA:BB:CC:DD:EE:FF")

	// First use: binding created, token issued, message says activated.
	res, err := validator.Validate(ctx, "abcd-efgh-1234-5678", deviceA)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Contains(t, res.Message, "activated")
	assert.NotEmpty(t, res.AccessToken)

	binding, err := store.Get(ctx, "ABCD-EFGH-1234-5678")
	require.NoError(t, err)
	require.NotNil(t, binding)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", binding.MAC)
	assert.Equal(t, 1, binding.UseCount)
	assert.False(t, binding.FirstUsed.IsZero())

	// Same device again: counter increments, message carries the count.
	res, err = validator.Validate(ctx, "ABCD-EFGH-1234-5678", deviceA)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Contains(t, res.Message, "#2")
	assert.NotEmpty(t, res.AccessToken)

	// Different device: rejected, no token, binding untouched.
	deviceB := mustIdentity(t, "11:22:33:44:55:66")
	res, err = validator.Validate(ctx, "ABCD-EFGH-1234-5678", deviceB)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, CodeDeviceMismatch, res.Code)
	assert.Empty(t, res.AccessToken)

	binding, err = store.Get(ctx, "ABCD-EFGH-1234-5678")
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", binding.MAC)
	assert.Equal(t, 2, binding.UseCount)
}

func TestRejectionCodes(t *testing.T) {
	validator, _ := testValidator(t, NewStaticKeySource([]string{"ABCD-EFGH-1234-5678"}, nil))
	ctx := context.Background()
	id := mustIdentity(t, "AA:BB:CC:DD:EE:FF")

	tests := []struct {
		name string
		key  string
		code string
	}{
		{"malformed key", "not-a-key", CodeInvalidFormat},
		{"empty key", "", CodeInvalidFormat},
		{"well formed but unprovisioned", "ZZZZ-ZZZZ-ZZZZ-ZZZZ", CodeUnknownKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := validator.Validate(ctx, tt.key, id)
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.Equal(t, tt.code, res.Code)
			assert.Empty(t, res.AccessToken, "rejections must not issue tokens")
		})
	}
}

func TestIssuedTokenVerifies(t *testing.T) {
	keys := NewStaticKeySource([]string{"ABCD-EFGH-1234-5678"}, nil)
	store := NewStore(kv.NewMemoryStore())
	codec := token.NewCodec("test-secret", 0)
	validator := NewValidator(keys, store, codec, slog.Default())
	id := mustIdentity(t, "AA:BB:CC:DD:EE:FF")

	res, err := validator.Validate(context.Background(), "ABCD-EFGH-1234-5678", id)
	require.NoError(t, err)

	claims, err := codec.Verify(res.AccessToken, id)
	require.NoError(t, err)
	assert.Equal(t, "ABCD-EFGH-1234-5678", claims.LicenseKey)
	assert.Equal(t, id.Compact(), claims.DeviceID)
}

func TestStaticKeySourceUnlimited(t *testing.T) {
	src := NewStaticKeySource([]string{"ABCD-EFGH-1234-5678"}, []string{"vipk-vipk-vipk-vipk"})
	ctx := context.Background()

	ok, err := src.IsUnlimited(ctx, "VIPK-VIPK-VIPK-VIPK")
	require.NoError(t, err)
	assert.True(t, ok)

	// Unlimited keys are implicitly provisioned.
	ok, err = src.IsProvisioned(ctx, "VIPK-VIPK-VIPK-VIPK")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = src.IsUnlimited(ctx, "ABCD-EFGH-1234-5678")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistryKeySource(t *testing.T) {
	store := kv.NewMemoryStore()
	src := NewRegistryKeySource(store)
	ctx := context.Background()

	ok, err := src.IsProvisioned(ctx, "ABCD-EFGH-1234-5678")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, src.Provision(ctx, "abcd-efgh-1234-5678", false))
	require.NoError(t, src.Provision(ctx, "VIPK-VIPK-VIPK-VIPK", true))

	ok, _ = src.IsProvisioned(ctx, "ABCD-EFGH-1234-5678")
	assert.True(t, ok)
	ok, _ = src.IsUnlimited(ctx, "ABCD-EFGH-1234-5678")
	assert.False(t, ok)
	ok, _ = src.IsUnlimited(ctx, "VIPK-VIPK-VIPK-VIPK")
	assert.True(t, ok)

	// Validator runs the same protocol over the registry source.
	validator := NewValidator(src, NewStore(store), token.NewCodec("s", 0), slog.Default())
	res, err := validator.Validate(ctx, "ABCD-EFGH-1234-5678", mustIdentity(t, "AA:BB:CC:DD:EE:FF"))
	require.NoError(t, err)
	assert.True(t, res.Valid)
}
