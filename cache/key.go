package cache

import (
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/heimdall-dns/heimdall/wire"
)

// Key is the canonical cache lookup key: a (name, type, class) triple plus
// a precomputed hash. Equality is defined on the triple; the hash is
// purely an optimization for map bucketing and shard selection, using
// xxhash for a fast, well-distributed hash.
type Key struct {
	Name  string
	Type  wire.Type
	Class wire.Class
	hash  uint64
}

// NewKey builds a Key from a parsed question, lowercasing the name (names
// are already lowercased by the wire codec on parse, but NewKey
// normalizes defensively for keys built from other sources, e.g. config).
func NewKey(name string, qtype wire.Type, class wire.Class) Key {
	name = strings.ToLower(name)
	h := xxhash.New()
	h.WriteString(name)
	h.Write([]byte{byte(qtype >> 8), byte(qtype), byte(class >> 8), byte(class)})
	return Key{Name: name, Type: qtype, Class: class, hash: h.Sum64()}
}

// KeyFromQuestion builds a Key from a wire.Question.
func KeyFromQuestion(q wire.Question) Key {
	return NewKey(q.Name, q.Type, q.Class)
}

func (k Key) Hash() uint64 { return k.hash }

// Equal reports whether two keys refer to the same triple. The embedded
// hash is not compared (it is a deterministic function of the triple).
func (k Key) Equal(o Key) bool {
	return k.Name == o.Name && k.Type == o.Type && k.Class == o.Class
}
