package repodb

import (
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/i5heu/tandem/pkg/wire"
)

// prefixShards is the number of independent shards the prefix index is
// split across. Sharding by xxhash(id) keeps Add() from serializing on one
// global lock under concurrent putOperation calls; Resolve() pays for this
// by scanning every shard's sorted list, which is fine since resolution is
// a low-frequency, interactive (CLI completion) operation.
const prefixShards = 16

// prefixIndex accelerates resolveOperationIdPrefix without a full table
// scan of the operation family on every call, rebuilt from badger at
// startup (repodb.rebuildPrefixIndex) and kept current incrementally as
// operations are written.
type prefixIndex struct {
	shards [prefixShards]shard
}

type shard struct {
	mu  sync.RWMutex
	ids []string // kept sorted for prefix binary search
}

func newPrefixIndex() *prefixIndex {
	return &prefixIndex{}
}

func (p *prefixIndex) shardIndex(id string) int {
	return int(xxhash.Sum64String(id) % prefixShards)
}

// Add records id in the index. Safe for concurrent use.
func (p *prefixIndex) Add(id string) {
	s := &p.shards[p.shardIndex(id)]
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.SearchStrings(s.ids, id)
	if i < len(s.ids) && s.ids[i] == id {
		return // already present
	}
	s.ids = append(s.ids, "")
	copy(s.ids[i+1:], s.ids[i:])
	s.ids[i] = id
}

// Resolve implements resolveOperationIdPrefix: noMatch if nothing starts
// with hexPrefix, singleMatch with the full id if exactly one does, and
// ambiguous otherwise.
func (p *prefixIndex) Resolve(hexPrefix string) (wire.PrefixResolution, string) {
	var matches []string
	for i := range p.shards {
		s := &p.shards[i]
		s.mu.RLock()
		start := sort.SearchStrings(s.ids, hexPrefix)
		for j := start; j < len(s.ids) && strings.HasPrefix(s.ids[j], hexPrefix); j++ {
			matches = append(matches, s.ids[j])
			if len(matches) > 1 {
				break
			}
		}
		s.mu.RUnlock()
		if len(matches) > 1 {
			break
		}
	}

	switch len(matches) {
	case 0:
		return wire.NoMatch, ""
	case 1:
		return wire.SingleMatch, matches[0]
	default:
		return wire.Ambiguous, ""
	}
}
