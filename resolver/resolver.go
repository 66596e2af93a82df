package resolver

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/metadata"
	"github.com/wippyai/clrmeta/model"
	"github.com/wippyai/clrmeta/signature"
)

// DefaultCacheSize is the number of assemblies kept when Config.CacheSize is 0.
const DefaultCacheSize = 64

// maxForwards bounds type forwarder chains.
const maxForwards = 8

// Config configures a Resolver.
type Config struct {
	// Assemblies locates referenced assemblies. Nil resolves only local
	// definitions.
	Assemblies AssemblyResolver

	// ThrowOnNotFound turns unresolved references into ResolutionFailure
	// errors instead of nil results.
	ThrowOnNotFound bool

	CacheSize     int
	IgnoreVersion bool
	Logger        *zap.Logger
}

// Type is a resolved type definition.
type Type struct {
	Module *model.Module
	Token  metadata.Token
	Def    *model.TypeDef
}

// Field is a resolved field definition.
type Field struct {
	Module *model.Module
	Token  metadata.Token
	Def    *model.FieldDef
}

// Method is a resolved method definition.
type Method struct {
	Module *model.Module
	Token  metadata.Token
	Def    *model.MethodDef
}

// Resolver maps references to the definitions they name, locally or in
// other assemblies. Resolved assemblies are cached by descriptor.
type Resolver struct {
	cfg   Config
	cmp   Comparer
	cache *lru.Cache
	log   *zap.Logger
}

// New creates a resolver.
func New(cfg Config) (*Resolver, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("assembly cache: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		cfg:   cfg,
		cmp:   Comparer{IgnoreVersion: cfg.IgnoreVersion},
		cache: cache,
		log:   log,
	}, nil
}

// Comparer returns the comparer the resolver matches with.
func (r *Resolver) Comparer() Comparer {
	return r.cmp
}

// Purge drops every cached assembly.
func (r *Resolver) Purge() {
	r.cache.Purge()
}

// Cached returns the number of cached assemblies.
func (r *Resolver) Cached() int {
	return r.cache.Len()
}

func (r *Resolver) notFound(what string) error {
	if !r.cfg.ThrowOnNotFound {
		return nil
	}
	return errors.ResolutionFailure(what, errors.ErrNotFound)
}

// ResolveAssembly returns the manifest module of desc.
func (r *Resolver) ResolveAssembly(ctx context.Context, desc AssemblyDescriptor) (*model.Module, error) {
	mod, err := r.assembly(ctx, desc)
	if err != nil || mod != nil {
		return mod, err
	}
	return nil, r.notFound("assembly " + desc.String())
}

func (r *Resolver) assembly(ctx context.Context, desc AssemblyDescriptor) (*model.Module, error) {
	key := desc.key(r.cfg.IgnoreVersion)
	if v, ok := r.cache.Get(key); ok {
		return v.(*model.Module), nil
	}
	if r.cfg.Assemblies == nil {
		return nil, nil
	}
	mod, err := r.cfg.Assemblies.ResolveAssembly(ctx, desc)
	if err != nil {
		return nil, errors.ResolutionFailure("assembly "+desc.String(), err)
	}
	if mod == nil {
		r.log.Debug("assembly not found", zap.String("assembly", desc.String()))
		return nil, nil
	}
	if mod.Assembly == nil || !r.cmp.EqualAssemblies(desc, DefDescriptor(mod.Assembly)) {
		r.log.Debug("assembly resolver returned a different assembly", zap.String("assembly", desc.String()))
		return nil, nil
	}
	r.cache.Add(key, mod)
	r.log.Debug("assembly resolved", zap.String("assembly", desc.String()))
	return mod, nil
}

// ResolveType returns the definition a TypeDef, TypeRef or TypeSpec token of
// mod names. A TypeSpec resolves to its generic or element type.
func (r *Resolver) ResolveType(ctx context.Context, mod *model.Module, tok metadata.Token) (*Type, error) {
	t, err := r.typ(ctx, mod, tok, 0)
	if err != nil || t != nil {
		return t, err
	}
	return nil, r.notFound("type " + tok.String())
}

func (r *Resolver) typ(ctx context.Context, mod *model.Module, tok metadata.Token, depth int) (*Type, error) {
	if depth > maxNesting {
		return nil, nil
	}
	switch tok.Table() {
	case metadata.TableTypeDef:
		if def, ok := mod.TypeDef(tok); ok {
			return &Type{Module: mod, Token: tok, Def: def}, nil
		}
	case metadata.TableTypeSpec:
		sig, ok := typeSpec(mod, tok)
		if !ok {
			return nil, nil
		}
		switch s := sig.(type) {
		case *signature.GenericInst:
			return r.typ(ctx, mod, s.Type, depth+1)
		case *signature.TypeDefOrRef:
			return r.typ(ctx, mod, s.Token, depth+1)
		}
	case metadata.TableTypeRef:
		ref, ok := mod.TypeRef(tok)
		if !ok {
			return nil, nil
		}
		scope := ref.ResolutionScope
		switch scope.Table() {
		case metadata.TableTypeRef:
			if scope.IsNil() {
				break
			}
			decl, err := r.typ(ctx, mod, scope, depth+1)
			if err != nil || decl == nil {
				return nil, err
			}
			return r.nested(decl, mod, tok), nil
		case metadata.TableAssemblyRef:
			aref, ok := mod.AssemblyRef(scope)
			if !ok {
				return nil, nil
			}
			target, err := r.assembly(ctx, RefDescriptor(aref))
			if err != nil || target == nil {
				return nil, err
			}
			return r.topLevel(ctx, target, mod, tok, 0)
		}
		// Module, ModuleRef and missing scopes name a type of this assembly.
		return r.topLevel(ctx, mod, mod, tok, 0)
	}
	return nil, nil
}

// topLevel finds the non-nested definition matching ref in target and follows
// exported type forwarders.
func (r *Resolver) topLevel(ctx context.Context, target, refMod *model.Module, ref metadata.Token, forwards int) (*Type, error) {
	for i, def := range target.TypeDefs {
		if def.IsNested() {
			continue
		}
		tok := metadata.NewToken(metadata.TableTypeDef, uint32(i+1))
		if r.cmp.EqualTypes(refMod, ref, target, tok) {
			return &Type{Module: target, Token: tok, Def: def}, nil
		}
	}
	if forwards >= maxForwards {
		return nil, nil
	}

	name := nameOf(refMod, ref)
	for _, et := range target.ExportedTypes {
		if et.Name != name.name || et.Namespace != name.namespace {
			continue
		}
		aref, ok := target.AssemblyRef(et.Implementation)
		if !ok {
			continue
		}
		next, err := r.assembly(ctx, RefDescriptor(aref))
		if err != nil || next == nil {
			return nil, err
		}
		r.log.Debug("following type forwarder",
			zap.String("type", et.Namespace+"."+et.Name), zap.String("assembly", aref.Name))
		return r.topLevel(ctx, next, refMod, ref, forwards+1)
	}
	return nil, nil
}

func (r *Resolver) nested(decl *Type, refMod *model.Module, ref metadata.Token) *Type {
	for i, def := range decl.Module.TypeDefs {
		if def.DeclaringType != decl.Token {
			continue
		}
		tok := metadata.NewToken(metadata.TableTypeDef, uint32(i+1))
		if r.cmp.EqualTypes(refMod, ref, decl.Module, tok) {
			return &Type{Module: decl.Module, Token: tok, Def: def}
		}
	}
	return nil
}

// ResolveField returns the definition a Field or field MemberRef token of mod
// names. A field matches on name and field type.
func (r *Resolver) ResolveField(ctx context.Context, mod *model.Module, tok metadata.Token) (*Field, error) {
	switch tok.Table() {
	case metadata.TableField:
		if def, ok := mod.Field(tok); ok {
			return &Field{Module: mod, Token: tok, Def: def}, nil
		}
	case metadata.TableMemberRef:
		ref, ok := mod.MemberRef(tok)
		if !ok {
			break
		}
		if !ref.IsField() {
			return nil, errors.InvalidInput(errors.PhaseResolve, "member reference "+tok.String()+" is not a field")
		}
		decl, err := r.typ(ctx, mod, ref.Class, 0)
		if err != nil {
			return nil, err
		}
		if decl != nil {
			for _, ftok := range decl.Def.Fields {
				f, ok := decl.Module.Field(ftok)
				if ok && f.Name == ref.Name && r.cmp.EqualSignatures(mod, ref.Signature, decl.Module, f.Signature) {
					return &Field{Module: decl.Module, Token: ftok, Def: f}, nil
				}
			}
		}
	default:
		return nil, errors.InvalidInput(errors.PhaseResolve, "token "+tok.String()+" does not name a field")
	}
	return nil, r.notFound("field " + tok.String())
}

// ResolveMethod returns the definition a MethodDef, MemberRef or MethodSpec
// token of mod names. A method matches on name and signature.
func (r *Resolver) ResolveMethod(ctx context.Context, mod *model.Module, tok metadata.Token) (*Method, error) {
	switch tok.Table() {
	case metadata.TableMethod:
		if def, ok := mod.Method(tok); ok {
			return &Method{Module: mod, Token: tok, Def: def}, nil
		}
	case metadata.TableMethodSpec:
		v, ok := mod.Lookup(tok)
		if !ok {
			break
		}
		return r.ResolveMethod(ctx, mod, v.(*model.MethodSpec).Method)
	case metadata.TableMemberRef:
		ref, ok := mod.MemberRef(tok)
		if !ok {
			break
		}
		if ref.IsField() {
			return nil, errors.InvalidInput(errors.PhaseResolve, "member reference "+tok.String()+" is not a method")
		}
		if ref.Class.Table() == metadata.TableMethod {
			return r.ResolveMethod(ctx, mod, ref.Class)
		}
		decl, err := r.typ(ctx, mod, ref.Class, 0)
		if err != nil {
			return nil, err
		}
		if decl != nil {
			for _, mtok := range decl.Def.Methods {
				m, ok := decl.Module.Method(mtok)
				if ok && m.Name == ref.Name && r.cmp.EqualSignatures(mod, ref.Signature, decl.Module, m.Signature) {
					return &Method{Module: decl.Module, Token: mtok, Def: m}, nil
				}
			}
		}
	default:
		return nil, errors.InvalidInput(errors.PhaseResolve, "token "+tok.String()+" does not name a method")
	}
	return nil, r.notFound("method " + tok.String())
}
