package resolver

import (
	"bytes"
	"slices"

	"github.com/wippyai/clrmeta/metadata"
	"github.com/wippyai/clrmeta/model"
	"github.com/wippyai/clrmeta/signature"
)

// maxNesting bounds declaring-type and type-spec recursion on cyclic input.
const maxNesting = 64

// Comparer decides structural equality of assemblies, types, signatures and
// members that may live in different modules.
//
// Types are equal when namespace, name and declaring type chain match. The
// resolution scope of a TypeRef is not compared, so two same-named types
// defined in different assemblies compare equal.
type Comparer struct {
	IgnoreVersion bool
}

// EqualAssemblies compares name, version, culture and public key token.
// Names are case-sensitive. An empty culture equals "neutral".
func (c Comparer) EqualAssemblies(a, b AssemblyDescriptor) bool {
	if a.Name != b.Name {
		return false
	}
	if !c.IgnoreVersion && a.Version != b.Version {
		return false
	}
	if culture(a.Culture) != culture(b.Culture) {
		return false
	}
	return bytes.Equal(a.PublicKeyToken(), b.PublicKeyToken())
}

// typeName is the part of a type that takes part in equality.
type typeName struct {
	namespace, name string
	declaring       metadata.Token
	ok              bool
}

func nameOf(m *model.Module, tok metadata.Token) typeName {
	switch tok.Table() {
	case metadata.TableTypeDef:
		if t, ok := m.TypeDef(tok); ok {
			return typeName{namespace: t.Namespace, name: t.Name, declaring: t.DeclaringType, ok: true}
		}
	case metadata.TableTypeRef:
		if r, ok := m.TypeRef(tok); ok {
			n := typeName{namespace: r.Namespace, name: r.Name, ok: true}
			if r.ResolutionScope.Table() == metadata.TableTypeRef && !r.ResolutionScope.IsNil() {
				n.declaring = r.ResolutionScope
			}
			return n
		}
	}
	return typeName{}
}

// EqualTypes compares a TypeDef, TypeRef or TypeSpec token of am with one
// of bm.
func (c Comparer) EqualTypes(am *model.Module, a metadata.Token, bm *model.Module, b metadata.Token) bool {
	return c.equalTypes(am, a, bm, b, 0)
}

func (c Comparer) equalTypes(am *model.Module, a metadata.Token, bm *model.Module, b metadata.Token, depth int) bool {
	if depth > maxNesting {
		return false
	}
	if a.IsNil() || b.IsNil() {
		return a.IsNil() && b.IsNil()
	}
	aSpec, bSpec := a.Table() == metadata.TableTypeSpec, b.Table() == metadata.TableTypeSpec
	if aSpec || bSpec {
		if aSpec != bSpec {
			return false
		}
		as, aok := typeSpec(am, a)
		bs, bok := typeSpec(bm, b)
		return aok && bok && c.equalSigs(am, as, bm, bs, depth+1)
	}

	an, bn := nameOf(am, a), nameOf(bm, b)
	if !an.ok || !bn.ok || an.name != bn.name || an.namespace != bn.namespace {
		return false
	}
	if an.declaring.IsNil() || bn.declaring.IsNil() {
		return an.declaring.IsNil() && bn.declaring.IsNil()
	}
	return c.equalTypes(am, an.declaring, bm, bn.declaring, depth+1)
}

func typeSpec(m *model.Module, tok metadata.Token) (signature.TypeSig, bool) {
	v, ok := m.Lookup(tok)
	if !ok {
		return nil, false
	}
	ts, ok := v.(*model.TypeSpec).Signature.(*signature.TypeSpecSig)
	if !ok {
		return nil, false
	}
	return ts.Type, true
}

// EqualTypeSigs compares two signature types structurally.
func (c Comparer) EqualTypeSigs(am *model.Module, a signature.TypeSig, bm *model.Module, b signature.TypeSig) bool {
	return c.equalSigs(am, a, bm, b, 0)
}

func (c Comparer) equalSigs(am *model.Module, a signature.TypeSig, bm *model.Module, b signature.TypeSig, depth int) bool {
	if depth > maxNesting {
		return false
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.ElementType() != b.ElementType() {
		return false
	}
	switch x := a.(type) {
	case *signature.CorLibType:
		return true
	case *signature.TypeDefOrRef:
		y := b.(*signature.TypeDefOrRef)
		return c.equalTypes(am, x.Token, bm, y.Token, depth+1)
	case *signature.GenericInst:
		y := b.(*signature.GenericInst)
		if x.IsValueType != y.IsValueType || len(x.Args) != len(y.Args) {
			return false
		}
		if !c.equalTypes(am, x.Type, bm, y.Type, depth+1) {
			return false
		}
		for i := range x.Args {
			if !c.equalSigs(am, x.Args[i], bm, y.Args[i], depth+1) {
				return false
			}
		}
		return true
	case *signature.GenericParam:
		return x.Index == b.(*signature.GenericParam).Index
	case *signature.SZArray:
		return c.equalSigs(am, x.Elem, bm, b.(*signature.SZArray).Elem, depth+1)
	case *signature.Array:
		y := b.(*signature.Array)
		if x.Rank != y.Rank || !slices.Equal(x.Sizes, y.Sizes) || !slices.Equal(x.LowerBounds, y.LowerBounds) {
			return false
		}
		return c.equalSigs(am, x.Elem, bm, y.Elem, depth+1)
	case *signature.Pointer:
		return c.equalSigs(am, x.Elem, bm, b.(*signature.Pointer).Elem, depth+1)
	case *signature.ByRef:
		return c.equalSigs(am, x.Elem, bm, b.(*signature.ByRef).Elem, depth+1)
	case *signature.Pinned:
		return c.equalSigs(am, x.Elem, bm, b.(*signature.Pinned).Elem, depth+1)
	case *signature.FnPtr:
		return c.equalMethods(am, x.Method, bm, b.(*signature.FnPtr).Method, depth+1)
	case *signature.Modifier:
		y := b.(*signature.Modifier)
		return c.equalTypes(am, x.Type, bm, y.Type, depth+1) && c.equalSigs(am, x.Elem, bm, y.Elem, depth+1)
	}
	return false
}

// EqualMethodSigs compares calling convention, generic arity, return type
// and parameter types.
func (c Comparer) EqualMethodSigs(am *model.Module, a *signature.MethodSig, bm *model.Module, b *signature.MethodSig) bool {
	return c.equalMethods(am, a, bm, b, 0)
}

func (c Comparer) equalMethods(am *model.Module, a *signature.MethodSig, bm *model.Module, b *signature.MethodSig, depth int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.CallConv != b.CallConv || a.GenericParams != b.GenericParams || len(a.Params) != len(b.Params) {
		return false
	}
	if !c.equalSigs(am, a.Return, bm, b.Return, depth+1) {
		return false
	}
	for i := range a.Params {
		if !c.equalSigs(am, a.Params[i], bm, b.Params[i], depth+1) {
			return false
		}
	}
	return true
}

// EqualSignatures compares two member signatures of any kind. Undecoded
// blobs compare by bytes.
func (c Comparer) EqualSignatures(am *model.Module, a signature.Signature, bm *model.Module, b signature.Signature) bool {
	switch x := a.(type) {
	case *signature.MethodSig:
		y, ok := b.(*signature.MethodSig)
		return ok && c.equalMethods(am, x, bm, y, 0)
	case *signature.FieldSig:
		y, ok := b.(*signature.FieldSig)
		return ok && c.equalSigs(am, x.Type, bm, y.Type, 0)
	case *signature.PropertySig:
		y, ok := b.(*signature.PropertySig)
		if !ok || x.HasThis != y.HasThis || len(x.Params) != len(y.Params) || !c.equalSigs(am, x.Type, bm, y.Type, 0) {
			return false
		}
		for i := range x.Params {
			if !c.equalSigs(am, x.Params[i], bm, y.Params[i], 0) {
				return false
			}
		}
		return true
	case *signature.Raw:
		y, ok := b.(*signature.Raw)
		return ok && bytes.Equal(x.Data, y.Data)
	}
	return false
}
