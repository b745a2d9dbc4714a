package keyset

import (
	"errors"
	"time"
)

var (
	// ErrKeySetUnavailable is returned when no usable key set can be obtained.
	ErrKeySetUnavailable = errors.New("key set unavailable")
	// ErrUnknownKeyID is returned when the key set holds no key for the requested id.
	ErrUnknownKeyID = errors.New("unknown key id")
	// ErrKeyShapeMismatch is returned when key material does not fit the token algorithm.
	ErrKeyShapeMismatch = errors.New("key shape mismatch")
)

// Entry is one verification key.
type Entry struct {
	// KeyID is the JWK "kid"; it may be empty for single-key sets.
	KeyID string
	// Algorithm is the JWK "alg" when the publisher pinned one.
	Algorithm string
	// Material is *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey or []byte.
	Material any
}

// Shape reports the entry's key shape.
func (e Entry) Shape() Shape {
	return ShapeOf(e.Material)
}

// KeySet is an immutable snapshot of verification keys.
type KeySet struct {
	entries   []Entry
	byID      map[string]int
	fetchedAt time.Time
	deadline  time.Time
}

// New builds a key set fetched at fetchedAt and fresh for ttl. When ids repeat
// the first entry wins.
func New(entries []Entry, fetchedAt time.Time, ttl time.Duration) *KeySet {
	s := &KeySet{
		entries:   make([]Entry, len(entries)),
		byID:      make(map[string]int, len(entries)),
		fetchedAt: fetchedAt,
		deadline:  fetchedAt.Add(ttl),
	}
	copy(s.entries, entries)
	for i, e := range s.entries {
		if e.KeyID == "" {
			continue
		}
		if _, dup := s.byID[e.KeyID]; !dup {
			s.byID[e.KeyID] = i
		}
	}
	return s
}

// Len returns the number of entries.
func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Entries returns a copy of the entries in publication order.
func (s *KeySet) Entries() []Entry {
	if s == nil {
		return nil
	}
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// FetchedAt returns when the set was obtained.
func (s *KeySet) FetchedAt() time.Time { return s.fetchedAt }

// Deadline returns the end of the freshness window.
func (s *KeySet) Deadline() time.Time { return s.deadline }

// FreshAt reports whether now is before the freshness deadline.
func (s *KeySet) FreshAt(now time.Time) bool {
	return s != nil && now.Before(s.deadline)
}

// Lookup selects the key for kid. An empty kid matches only a set holding
// exactly one key.
func (s *KeySet) Lookup(kid string) (Entry, error) {
	if s == nil {
		return Entry{}, ErrKeySetUnavailable
	}
	if kid == "" {
		if len(s.entries) == 1 {
			return s.entries[0], nil
		}
		return Entry{}, ErrUnknownKeyID
	}
	i, ok := s.byID[kid]
	if !ok {
		return Entry{}, ErrUnknownKeyID
	}
	return s.entries[i], nil
}

// Has reports whether Lookup would succeed for kid.
func (s *KeySet) Has(kid string) bool {
	_, err := s.Lookup(kid)
	return err == nil
}
