package keyring

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/propolis-ai/annotator/pkg/models"
	"github.com/propolis-ai/annotator/pkg/provider"
)

type memStore struct {
	byHash map[string]models.Credential
}

func (m *memStore) Credential(_ context.Context, hash, note string) (models.Credential, error) {
	if c, ok := m.byHash[hash]; ok {
		return c, nil
	}
	c := models.Credential{ID: int64(len(m.byHash) + 1), Hash: hash, Note: note}
	m.byHash[hash] = c
	return c, nil
}

type stubEnv struct {
	provider.Env
	key string
}

func build(key string) (provider.Env, error) { return stubEnv{key: key}, nil }

func TestPartialHash(t *testing.T) {
	a, err := PartialHash("sk-abcdefghijKLMNOP")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(a, "$argon2id$v=19$m=19456,t=2,p=1$") {
		t.Errorf("unexpected hash format %q", a)
	}
	// Only the first 12 characters matter.
	b, _ := PartialHash("sk-abcdefghiXYZXYZ")
	if a != b {
		t.Error("keys sharing the first 12 characters must hash equally")
	}
	c, _ := PartialHash("sk-zzzzzzzzzzzzzzzz")
	if a == c {
		t.Error("different prefixes must hash differently")
	}
	if strings.Contains(a, "abcdefghi") {
		t.Error("hash must not contain the key")
	}
}

func TestPartialHashShortKey(t *testing.T) {
	if _, err := PartialHash("sk-short"); err == nil {
		t.Error("expected error for short key")
	}
}

func TestNewDeduplicatesKeys(t *testing.T) {
	store := &memStore{byHash: map[string]models.Credential{}}
	keys := []string{"sk-aaaaaaaaaaaa-1", "sk-bbbbbbbbbbbb-2", "sk-aaaaaaaaaaaa-1", ""}
	r, err := New(context.Background(), store, keys, build)
	if err != nil {
		t.Fatal(err)
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", r.Len())
	}
	if len(store.byHash) != 2 {
		t.Errorf("expected 2 stored credentials, got %d", len(store.byHash))
	}
}

func TestNextCoversAllKeys(t *testing.T) {
	store := &memStore{byHash: map[string]models.Credential{}}
	keys := []string{"sk-aaaaaaaaaaaa-1", "sk-bbbbbbbbbbbb-2", "sk-cccccccccccc-3"}
	r, err := New(context.Background(), store, keys, build)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		e, err := r.Next()
		if err != nil {
			t.Fatal(err)
		}
		seen[e.Env.(stubEnv).key] = true
		if e.Credential.ID == 0 {
			t.Error("expected persisted credential id")
		}
	}
	if len(seen) != 3 {
		t.Errorf("expected every key to be picked, got %v", seen)
	}
}

func TestNextEmpty(t *testing.T) {
	r, err := New(context.Background(), &memStore{byHash: map[string]models.Credential{}}, nil, build)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Next(); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestNewBuildFailure(t *testing.T) {
	failing := func(string) (provider.Env, error) { return nil, errors.New("boom") }
	_, err := New(context.Background(), &memStore{byHash: map[string]models.Credential{}}, []string{"sk-aaaaaaaaaaaa-1"}, failing)
	if err == nil {
		t.Error("expected build error")
	}
}
