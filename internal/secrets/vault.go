package secrets

import "context"

// Vault is what the template resolver holds to expand {{secrets.KEY}}
// references in step configs. Resolved plaintext goes straight into the
// in-flight config map and is never written back to the run record, so
// secrets stay out of the step log and the SSE stream.
type Vault interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// SecretStore is the slice of the persistence layer the vault needs:
// opaque sealed bytes keyed by name. Satisfied by store.Store.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}
