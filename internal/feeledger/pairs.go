package feeledger

import (
	"bytes"
	"sort"

	"github.com/nspcc-dev/neo-go/pkg/util"
)

// PairRegistry is the set of accounts whose transfers are fee-applicable.
// It is not safe for concurrent use.
type PairRegistry struct {
	set map[util.Uint160]struct{}
}

// NewPairRegistry returns a registry holding accts.
func NewPairRegistry(accts ...util.Uint160) *PairRegistry {
	r := &PairRegistry{set: make(map[util.Uint160]struct{}, len(accts))}
	for _, a := range accts {
		r.set[a] = struct{}{}
	}
	return r
}

// Contains reports whether acct is a registered pair.
func (r *PairRegistry) Contains(acct util.Uint160) bool {
	_, ok := r.set[acct]
	return ok
}

// Add registers acct and reports whether it was new.
func (r *PairRegistry) Add(acct util.Uint160) bool {
	if r.Contains(acct) {
		return false
	}
	r.set[acct] = struct{}{}
	return true
}

// Remove unregisters acct and reports whether it was present.
func (r *PairRegistry) Remove(acct util.Uint160) bool {
	if !r.Contains(acct) {
		return false
	}
	delete(r.set, acct)
	return true
}

// Len returns the number of registered pairs.
func (r *PairRegistry) Len() int { return len(r.set) }

// List returns the registered pairs in byte order.
func (r *PairRegistry) List() []util.Uint160 {
	out := make([]util.Uint160, 0, len(r.set))
	for a := range r.set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
