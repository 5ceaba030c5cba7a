package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/umputun/dbx/pkg/db"
	"github.com/umputun/dbx/pkg/field"
)

// InternalProvider keeps secrets encrypted in a table of a database reached through any registered backend.
// The caller imports the backend package.
type InternalProvider struct {
	db  *db.Database
	key []byte
	mu  sync.Mutex // statements of the shared connection are not goroutine-safe
}

const maxKeyLen = 255

var upserts = map[string]string{
	"sqlite":   "INSERT OR REPLACE INTO dbx_secrets (skey, sval) VALUES (?, ?)",
	"mysql":    "REPLACE INTO dbx_secrets (skey, sval) VALUES (?, ?)",
	"postgres": "INSERT INTO dbx_secrets (skey, sval) VALUES (?, ?) ON CONFLICT (skey) DO UPDATE SET sval = EXCLUDED.sval",
}

// NewInternalProvider connects to the database and makes the secrets table if needed.
func NewInternalProvider(ctx context.Context, backend string, params db.Params, key []byte) (*InternalProvider, error) {
	if _, ok := upserts[backend]; !ok {
		return nil, fmt.Errorf("unsupported secrets database backend %q", backend)
	}
	d, err := db.Open(backend, params)
	if err != nil {
		return nil, fmt.Errorf("can't open secrets database: %w", err)
	}
	if err = d.Connect(ctx); err != nil {
		return nil, fmt.Errorf("error opening secrets database: %w", err)
	}
	res := &InternalProvider{db: d, key: key}
	if err = res.exec(ctx, "CREATE TABLE IF NOT EXISTS dbx_secrets (skey VARCHAR(255) PRIMARY KEY, sval TEXT)"); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("can't make secrets table: %w", err)
	}
	log.Printf("[INFO] secrets provider: using %s database %s", backend, params)
	return res, nil
}

// Get retrieves a secret from the database, decrypts it, and returns it.
func (p *InternalProvider) Get(key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rows, err := p.query(context.Background(), "SELECT sval FROM dbx_secrets WHERE skey = ?", key)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", errors.New("secret not found")
	}
	decrypted, err := p.decrypt(rows[0])
	if err != nil {
		return "", fmt.Errorf("can't get secret for %s: %w", key, err)
	}
	return decrypted, nil
}

// Set stores a secret in the database, encrypted.
func (p *InternalProvider) Set(key, value string) error {
	encrypted, err := p.encrypt(value)
	if err != nil {
		return fmt.Errorf("can't set secret for %s: %w", key, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ctx := context.Background()
	st, err := p.statement(ctx, upserts[p.db.Backend().Name()], key, encrypted)
	if err != nil {
		return err
	}
	defer st.Cleanup() //nolint:errcheck // nothing to do with it
	ok, err := st.ExecuteUpdate(ctx)
	if err != nil {
		return fmt.Errorf("error inserting secret: %w", err)
	}
	if !ok {
		return fmt.Errorf("error inserting secret: %w", st.LastError())
	}
	return nil
}

// Delete removes a secret from the database.
func (p *InternalProvider) Delete(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ctx := context.Background()
	st, err := p.statement(ctx, "DELETE FROM dbx_secrets WHERE skey = ?", key)
	if err != nil {
		return err
	}
	defer st.Cleanup() //nolint:errcheck // nothing to do with it
	ok, err := st.ExecuteUpdate(ctx)
	if err != nil {
		return fmt.Errorf("error deleting secret for %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("error deleting secret for %s: %w", key, st.LastError())
	}
	if st.RowsAffected() == 0 {
		return fmt.Errorf("key not found in the database: %s", key)
	}
	return nil
}

// List returns sorted secret keys starting with prefix, all of them for an empty or "*" prefix.
func (p *InternalProvider) List(prefix string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prefix == "*" {
		prefix = ""
	}
	keys, err := p.query(context.Background(), "SELECT skey FROM dbx_secrets WHERE skey LIKE ? ORDER BY skey", prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("error listing secrets: %w", err)
	}
	return keys, nil
}

// Close disconnects from the database.
func (p *InternalProvider) Close() error {
	return p.db.Close()
}

// statement prepares query with text parameters set to args
func (p *InternalProvider) statement(ctx context.Context, query string, args ...string) (*db.Statement, error) {
	st, err := p.db.NewStatement(ctx, query)
	if err != nil {
		return nil, err
	}
	for i := range args {
		infos := field.NewInfos(fmt.Sprintf("p%d", i+1), field.Text)
		if i == 0 {
			infos = field.NewInfos("skey", field.VarChar).WithLimit(maxKeyLen)
		}
		if _, err = st.CreateParameter(infos, db.In); err != nil {
			return nil, err
		}
	}
	if err = st.Initialize(ctx); err != nil {
		_ = st.Cleanup()
		return nil, fmt.Errorf("error preparing statement: %w", err)
	}
	for i, a := range args {
		if err = st.SetParameterValue(i+1, a); err != nil {
			_ = st.Cleanup()
			return nil, fmt.Errorf("invalid value of parameter %d: %w", i+1, err)
		}
	}
	return st, nil
}

// query runs a single column select and returns the column values
func (p *InternalProvider) query(ctx context.Context, query string, args ...string) ([]string, error) {
	st, err := p.statement(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer st.Cleanup() //nolint:errcheck // nothing to do with it
	rs, err := st.ExecuteSelect(ctx)
	if err != nil {
		return nil, err
	}
	if rs == nil {
		return nil, st.LastError()
	}
	res := make([]string, 0, rs.Len())
	for _, row := range rs.Rows() {
		f, err := row.Field(0)
		if err != nil {
			return nil, err
		}
		b, err := f.Bytes() // text or binary, depends on the backend's column type
		if err != nil {
			return nil, fmt.Errorf("can't read %s: %w", f.Name(), err)
		}
		res = append(res, string(b))
	}
	return res, nil
}

func (p *InternalProvider) exec(ctx context.Context, query string) error {
	ok, err := p.db.ExecuteUpdate(ctx, query)
	if err != nil {
		return err
	}
	if !ok {
		c, err := p.db.RetrieveConnection(ctx)
		if err != nil {
			return err
		}
		return c.LastError()
	}
	return nil
}

// encrypt seals data with a key derived from the provider's key and a random salt.
// The result is base64 of nonce (24 bytes), salt (16 bytes) and the sealed box.
func (p *InternalProvider) encrypt(data string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	naclKey := new([32]byte)
	copy(naclKey[:], deriveKey(p.key, salt))

	nonce := new([24]byte)
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}

	out := make([]byte, 24+16)
	copy(out, nonce[:])
	copy(out[24:], salt)
	return base64.StdEncoding.EncodeToString(secretbox.Seal(out, []byte(data), nonce, naclKey)), nil
}

// decrypt opens data made by encrypt
func (p *InternalProvider) decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	if len(sealed) < 24+16+secretbox.Overhead {
		return "", errors.New("sealed data too short")
	}

	nonce := new([24]byte)
	copy(nonce[:], sealed[:24])
	naclKey := new([32]byte)
	copy(naclKey[:], deriveKey(p.key, sealed[24:40]))

	decrypted, ok := secretbox.Open(nil, sealed[40:], nonce, naclKey)
	if !ok {
		return "", errors.New("failed to decrypt")
	}
	return string(decrypted), nil
}

// deriveKey makes a 32 bytes key with argon2id, 1 pass over 64MiB with 4 threads
func deriveKey(key, salt []byte) []byte {
	return argon2.IDKey(key, salt, 1, 64*1024, 4, 32)
}

// NoOpProvider is a provider that does nothing.
type NoOpProvider struct{}

// Get returns an error on every key.
func (p *NoOpProvider) Get(_ string) (string, error) {
	return "", errors.New("not implemented")
}
