package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclight-io/conveyor/pkg/schema"
)

// memSecretStore is an in-memory SecretStore for tests.
type memSecretStore struct {
	data map[string][]byte
}

func newMemSecretStore() *memSecretStore {
	return &memSecretStore{data: make(map[string][]byte)}
}

func (m *memSecretStore) StoreSecret(_ context.Context, key string, value []byte) error {
	m.data[key] = value
	return nil
}

func (m *memSecretStore) GetSecret(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return v, nil
}

func (m *memSecretStore) DeleteSecret(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *memSecretStore) ListSecrets(_ context.Context) ([]string, error) {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestVaultRoundTrip(t *testing.T) {
	ms := newMemSecretStore()
	v, err := NewAESVault(ms, VaultConfig{MasterKey: testKey()})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, v.Store(ctx, "API_KEY", []byte("sk-secret")))

	// Ciphertext at rest, not plaintext.
	assert.NotEqual(t, []byte("sk-secret"), ms.data["API_KEY"])

	got, err := v.Resolve(ctx, "API_KEY")
	require.NoError(t, err)
	assert.Equal(t, []byte("sk-secret"), got)
}

func TestVaultPassphraseDerivation(t *testing.T) {
	ms := newMemSecretStore()
	v, err := NewAESVault(ms, VaultConfig{Passphrase: "hunter2", Salt: []byte("pepper")})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, v.Store(ctx, "TOKEN", []byte("abc")))

	// Same passphrase+salt decrypts; a different passphrase must not.
	v2, err := NewAESVault(ms, VaultConfig{Passphrase: "hunter2", Salt: []byte("pepper")})
	require.NoError(t, err)
	got, err := v2.Resolve(ctx, "TOKEN")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	v3, err := NewAESVault(ms, VaultConfig{Passphrase: "wrong", Salt: []byte("pepper")})
	require.NoError(t, err)
	_, err = v3.Resolve(ctx, "TOKEN")
	require.Error(t, err)
}

func TestVaultInvalidConfig(t *testing.T) {
	ms := newMemSecretStore()

	_, err := NewAESVault(ms, VaultConfig{MasterKey: []byte("short")})
	require.Error(t, err)

	_, err = NewAESVault(ms, VaultConfig{})
	require.Error(t, err)

	_, err = NewAESVault(ms, VaultConfig{Passphrase: "p"})
	require.Error(t, err)
}

func TestVaultDeleteAndList(t *testing.T) {
	ms := newMemSecretStore()
	v, err := NewAESVault(ms, VaultConfig{MasterKey: testKey()})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, v.Store(ctx, "A", []byte("1")))

	keys, err := v.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, keys)

	require.NoError(t, v.Delete(ctx, "A"))
	_, err = v.Resolve(ctx, "A")
	require.Error(t, err)
}
