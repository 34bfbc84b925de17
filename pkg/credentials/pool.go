// Package credentials manages the set of NCBI API identities used by the
// harvester. The configured set is immutable for the process lifetime; the
// pool only hands out copies.
package credentials

import (
	"errors"
	"math/rand"
	"sync"
)

// ErrEmptyPool is returned when a pool is constructed without credentials.
var ErrEmptyPool = errors.New("credential pool requires at least one credential")

// Credential is an (identity, access-token) pair registered with the
// upstream API.
type Credential struct {
	Email  string `yaml:"email"`
	APIKey string `yaml:"api_key"`
}

// Pool selects credentials for outbound requests. Safe for concurrent use.
type Pool struct {
	mu          sync.Mutex
	creds       []Credential
	rng         *rand.Rand
	rotateEvery int
	current     Credential
	draws       int
}

// NewPool creates a pool over a copy of the given credential set.
//
// With rotateEvery == 0 every call to Next draws uniformly at random.
// With rotateEvery > 0 the pool pins one credential and re-draws it after
// every rotateEvery calls, spreading load coarsely across identities without
// churning on every request.
func NewPool(creds []Credential, rotateEvery int, seed int64) (*Pool, error) {
	if len(creds) == 0 {
		return nil, ErrEmptyPool
	}

	owned := make([]Credential, len(creds))
	copy(owned, creds)

	p := &Pool{
		creds:       owned,
		rng:         rand.New(rand.NewSource(seed)),
		rotateEvery: rotateEvery,
	}
	p.current = owned[p.rng.Intn(len(owned))]

	return p, nil
}

// Next returns the credential to use for the next request.
func (p *Pool) Next() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rotateEvery <= 0 {
		return p.creds[p.rng.Intn(len(p.creds))]
	}

	p.draws++
	if p.draws >= p.rotateEvery {
		p.draws = 0
		p.current = p.creds[p.rng.Intn(len(p.creds))]
	}
	return p.current
}

// Size returns the number of configured credentials.
func (p *Pool) Size() int {
	return len(p.creds)
}
