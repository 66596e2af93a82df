package builder

import (
	"github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/metadata"
)

// TokenMapping maps pre-rebuild tokens to the tokens rows received in the
// rebuilt metadata.
type TokenMapping struct {
	forward map[metadata.Token]metadata.Token
	order   []metadata.Token
}

func newTokenMapping() *TokenMapping {
	return &TokenMapping{forward: make(map[metadata.Token]metadata.Token)}
}

func (m *TokenMapping) set(old, new metadata.Token) {
	if _, ok := m.forward[old]; !ok {
		m.order = append(m.order, old)
	}
	m.forward[old] = new
}

// Get returns the new token of old.
func (m *TokenMapping) Get(old metadata.Token) (metadata.Token, bool) {
	t, ok := m.forward[old]
	return t, ok
}

// Len returns the number of mapped tokens.
func (m *TokenMapping) Len() int {
	return len(m.forward)
}

// Range calls fn for every mapping, table by table in new token order,
// until fn returns false.
func (m *TokenMapping) Range(fn func(old, new metadata.Token) bool) {
	for _, old := range m.order {
		if !fn(old, m.forward[old]) {
			return
		}
	}
}

// Map is Get as a signature token mapper. Nil tokens map to the zero token;
// unknown tokens are an error.
func (m *TokenMapping) Map(old metadata.Token) (metadata.Token, error) {
	if old.IsNil() {
		return 0, nil
	}
	t, ok := m.forward[old]
	if !ok {
		return 0, errors.NotFound(errors.PhaseBuild, "token", old.String())
	}
	return t, nil
}
