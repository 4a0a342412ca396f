package registry

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/Mister-Yo/whisper-protocol/internal/storage/pebble"
)

// X25519 public keys are exactly 32 bytes.
const publicKeySize = 32

var (
	// ErrInvalidKey rejects malformed key material at registration.
	ErrInvalidKey = errors.New("registry: invalid public key")
	// ErrNotFound is returned for accounts with no registered key and for
	// unknown groups. A sender hitting this must fail fast, not drop.
	ErrNotFound = errors.New("registry: not found")
	// ErrGroupExists rejects duplicate group ids.
	ErrGroupExists = errors.New("registry: group id already exists")
)

// RegisteredKey is one immutable entry in an account's key history.
type RegisteredKey struct {
	Account        string `json:"account"`
	PublicKey      []byte `json:"public_key"`
	Version        uint32 `json:"version"`
	RegisteredAtMs int64  `json:"registered_at_ms"`
	DisplayName    string `json:"display_name,omitempty"`
}

// GroupMeta describes a group chat created on chain. MemberKeys maps each
// member account to its encrypted group key; the relay stores it opaquely.
type GroupMeta struct {
	GroupID     string            `json:"group_id"`
	Creator     string            `json:"creator"`
	CreatedAtMs int64             `json:"created_at_ms"`
	Name        string            `json:"name,omitempty"`
	MemberKeys  map[string]string `json:"member_keys,omitempty"`
}

// Registry is the append-only directory of account encryption keys.
// Rotation appends a new version; existing versions are never edited, so
// envelopes sealed against an old version stay decryptable.
type Registry struct {
	db *pebblestore.DB
	// mu serializes registrations; versions are read-modify-write.
	mu sync.Mutex

	nowMs func() int64
}

// New returns a Registry over the provided store.
func New(db *pebblestore.DB) *Registry {
	return &Registry{db: db, nowMs: func() int64 { return time.Now().UnixMilli() }}
}

// Register appends a key for account and returns its version: previous+1,
// or 1 for a first registration. Only malformed key material fails.
func (r *Registry) Register(ctx context.Context, account string, publicKey []byte, displayName string) (uint32, error) {
	if account == "" {
		return 0, fmt.Errorf("%w: empty account", ErrInvalidKey)
	}
	if len(publicKey) != publicKeySize {
		return 0, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, publicKeySize, len(publicKey))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	version := uint32(1)
	firstRegistration := true
	if b, err := r.db.Get(keyLatest(account)); err == nil && len(b) >= 4 {
		version = binary.BigEndian.Uint32(b[:4]) + 1
		firstRegistration = false
	}

	entry := RegisteredKey{
		Account:        account,
		PublicKey:      append([]byte(nil), publicKey...),
		Version:        version,
		RegisteredAtMs: r.nowMs(),
		DisplayName:    displayName,
	}
	val, err := json.Marshal(entry)
	if err != nil {
		return 0, err
	}

	b := r.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyVersion(account, version), val, nil); err != nil {
		return 0, err
	}
	var latest [4]byte
	binary.BigEndian.PutUint32(latest[:], version)
	if err := b.Set(keyLatest(account), latest[:], nil); err != nil {
		return 0, err
	}
	if firstRegistration {
		if err := r.bumpCounter(b, profileCountKey); err != nil {
			return 0, err
		}
	}
	if err := r.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	return version, nil
}

// Lookup returns the highest-version key for account, or ErrNotFound.
func (r *Registry) Lookup(account string) (RegisteredKey, error) {
	b, err := r.db.Get(keyLatest(account))
	if err != nil || len(b) < 4 {
		return RegisteredKey{}, ErrNotFound
	}
	return r.LookupVersion(account, binary.BigEndian.Uint32(b[:4]))
}

// LookupVersion returns the exact historical entry, supporting decryption
// of envelopes sealed against rotated-away keys.
func (r *Registry) LookupVersion(account string, version uint32) (RegisteredKey, error) {
	b, err := r.db.Get(keyVersion(account, version))
	if err != nil {
		return RegisteredKey{}, ErrNotFound
	}
	var entry RegisteredKey
	if err := json.Unmarshal(b, &entry); err != nil {
		return RegisteredKey{}, fmt.Errorf("registry: corrupt entry for %s v%d: %w", account, version, err)
	}
	return entry, nil
}

// Has reports whether account has any registered key.
func (r *Registry) Has(account string) bool {
	_, err := r.db.Get(keyLatest(account))
	return err == nil
}

// CreateGroup records group metadata. Group ids are append-only.
func (r *Registry) CreateGroup(ctx context.Context, g GroupMeta) error {
	if g.GroupID == "" || g.Creator == "" {
		return fmt.Errorf("%w: group_id and creator are required", ErrInvalidKey)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.Get(keyGroup(g.GroupID)); err == nil {
		return ErrGroupExists
	}
	if g.CreatedAtMs == 0 {
		g.CreatedAtMs = r.nowMs()
	}
	val, err := json.Marshal(g)
	if err != nil {
		return err
	}
	b := r.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyGroup(g.GroupID), val, nil); err != nil {
		return err
	}
	if err := r.bumpCounter(b, groupCountKey); err != nil {
		return err
	}
	return r.db.CommitBatch(ctx, b)
}

// GetGroup returns group metadata or ErrNotFound.
func (r *Registry) GetGroup(groupID string) (GroupMeta, error) {
	b, err := r.db.Get(keyGroup(groupID))
	if err != nil {
		return GroupMeta{}, ErrNotFound
	}
	var g GroupMeta
	if err := json.Unmarshal(b, &g); err != nil {
		return GroupMeta{}, fmt.Errorf("registry: corrupt group %s: %w", groupID, err)
	}
	return g, nil
}

// ProfileCount returns the number of accounts with at least one key.
func (r *Registry) ProfileCount() uint64 { return r.readCounter(profileCountKey) }

// GroupCount returns the number of groups.
func (r *Registry) GroupCount() uint64 { return r.readCounter(groupCountKey) }

func (r *Registry) readCounter(key []byte) uint64 {
	b, err := r.db.Get(key)
	if err != nil || len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b[:8])
}

// bumpCounter increments a be8 counter inside the caller's batch so the
// count commits atomically with the entry it counts.
func (r *Registry) bumpCounter(b *pebble.Batch, key []byte) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], r.readCounter(key)+1)
	return b.Set(key, buf[:], nil)
}
