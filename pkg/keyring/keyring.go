// Package keyring holds one provider environment per configured API key and
// picks one at random for each cycle.
package keyring

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/argon2"

	"github.com/propolis-ai/annotator/pkg/models"
	"github.com/propolis-ai/annotator/pkg/provider"
)

// Only a prefix of the key is hashed, so a fixed salt is enough to make the
// reference stable across restarts.
const (
	keyPartLen = 12

	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
	argonKeyLen  = 32
)

var salt = []byte("staticsalt")

// ErrEmpty is returned by Next when no keys are configured.
var ErrEmpty = errors.New("no api keys configured")

// PartialHash returns the argon2id PHC string for the first 12 characters of key.
func PartialHash(key string) (string, error) {
	if len(key) <= keyPartLen {
		return "", errors.Newf("api key too short: %d characters, need more than %d", len(key), keyPartLen)
	}
	sum := argon2.IDKey([]byte(key[:keyPartLen]), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum)), nil
}

// CredentialStore persists credential references.
type CredentialStore interface {
	Credential(ctx context.Context, hash, note string) (models.Credential, error)
}

// Builder creates the environment bound to one key.
type Builder func(apiKey string) (provider.Env, error)

// Entry is a credential and the environment that uses it.
type Entry struct {
	Credential models.Credential
	Env        provider.Env
}

// Ring selects entries uniformly at random.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	rnd     *rand.Rand
}

// New registers every distinct key in store and builds its environment.
func New(ctx context.Context, store CredentialStore, keys []string, build Builder) (*Ring, error) {
	r := &Ring{rnd: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		hash, err := PartialHash(key)
		if err != nil {
			return nil, err
		}
		cred, err := store.Credential(ctx, hash, "")
		if err != nil {
			return nil, errors.Wrap(err, "register credential")
		}
		env, err := build(key)
		if err != nil {
			return nil, errors.Wrapf(err, "build environment for credential %d", cred.ID)
		}
		r.entries = append(r.entries, Entry{Credential: cred, Env: env})
	}
	return r, nil
}

// Len returns the number of keys.
func (r *Ring) Len() int {
	return len(r.entries)
}

// Next returns a random entry.
func (r *Ring) Next() (Entry, error) {
	if len(r.entries) == 0 {
		return Entry{}, ErrEmpty
	}
	r.mu.Lock()
	i := r.rnd.IntN(len(r.entries))
	r.mu.Unlock()
	return r.entries[i], nil
}
