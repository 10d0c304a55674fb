package state

import (
	"sort"

	"github.com/cespare/xxhash/v2"
)

// replicaSetHash hashes a replica set independent of input order, so that
// two vnodes sharing the same replicas (listed in any order) fall into the
// same group.
func replicaSetHash(replicas []string) uint64 {
	s := make([]string, len(replicas))
	copy(s, replicas)
	sort.Strings(s)

	h := xxhash.New()
	for _, r := range s {
		h.WriteString(r)  // nolint: errcheck
		h.WriteString(",") // nolint: errcheck
	}
	return h.Sum64()
}
