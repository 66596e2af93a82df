package resolver

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/wippyai/clrmeta/model"
)

// neutralCulture is the culture name that an empty culture stands for.
const neutralCulture = "neutral"

// AssemblyDescriptor identifies an assembly by name, version, culture and
// public key or public key token.
type AssemblyDescriptor struct {
	Name    string
	Version model.Version
	Culture string

	// PublicKeyOrToken holds a full public key when HasPublicKey is set,
	// otherwise an 8-byte token or nothing.
	PublicKeyOrToken []byte
	HasPublicKey     bool
}

// RefDescriptor describes the assembly an AssemblyRef points to.
func RefDescriptor(r *model.AssemblyRef) AssemblyDescriptor {
	return AssemblyDescriptor{
		Name:             r.Name,
		Version:          r.Version,
		Culture:          r.Culture,
		PublicKeyOrToken: r.PublicKeyOrToken,
		HasPublicKey:     r.Flags&model.AssemblyPublicKey != 0,
	}
}

// DefDescriptor describes an assembly manifest.
func DefDescriptor(a *model.Assembly) AssemblyDescriptor {
	return AssemblyDescriptor{
		Name:             a.Name,
		Version:          a.Version,
		Culture:          a.Culture,
		PublicKeyOrToken: a.PublicKey,
		HasPublicKey:     len(a.PublicKey) > 0,
	}
}

// PublicKeyToken returns the 8-byte token of desc, deriving it from the full
// key when needed. Nil means the assembly is not strong-named.
func (d AssemblyDescriptor) PublicKeyToken() []byte {
	if d.HasPublicKey {
		return PublicKeyToken(d.PublicKeyOrToken)
	}
	if len(d.PublicKeyOrToken) == 0 {
		return nil
	}
	return d.PublicKeyOrToken
}

// PublicKeyToken reduces a public key to its token: the last eight bytes of
// its SHA-1 hash in reverse order.
func PublicKeyToken(key []byte) []byte {
	if len(key) == 0 {
		return nil
	}
	sum := sha1.Sum(key)
	token := make([]byte, 8)
	for i := range token {
		token[i] = sum[len(sum)-1-i]
	}
	return token
}

func culture(c string) string {
	if c == "" || strings.EqualFold(c, neutralCulture) {
		return ""
	}
	return strings.ToLower(c)
}

// key is the cache identity of a descriptor.
func (d AssemblyDescriptor) key(ignoreVersion bool) string {
	var b strings.Builder
	b.WriteString(d.Name)
	if !ignoreVersion {
		b.WriteString(", Version=")
		b.WriteString(d.Version.String())
	}
	b.WriteString(", Culture=")
	b.WriteString(culture(d.Culture))
	b.WriteString(", PublicKeyToken=")
	b.WriteString(hex.EncodeToString(d.PublicKeyToken()))
	return b.String()
}

// String renders the descriptor as a display name.
func (d AssemblyDescriptor) String() string {
	c := d.Culture
	if c == "" {
		c = neutralCulture
	}
	token := "null"
	if t := d.PublicKeyToken(); t != nil {
		token = hex.EncodeToString(t)
	}
	return d.Name + ", Version=" + d.Version.String() + ", Culture=" + c + ", PublicKeyToken=" + token
}
