package builder

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/metadata"
	"github.com/wippyai/clrmeta/model"
	"github.com/wippyai/clrmeta/signature"
)

// registry records the rows of one table in registration order.
type registry struct {
	order []uint32
	seen  map[uint32]bool

	// final holds old rids in final row order once ordering has run.
	final []uint32
}

func (r *registry) add(rid uint32) bool {
	if r.seen[rid] {
		return false
	}
	r.seen[rid] = true
	r.order = append(r.order, rid)
	return true
}

type state struct {
	cfg Config
	mod *model.Module

	regs    [metadata.TableCount]*registry
	parent  map[metadata.Token]metadata.Token
	mapping *TokenMapping

	strings *metadata.StringsBuffer
	blobs   *metadata.BlobBuffer
	guids   *metadata.GUIDBuffer
}

func newState(cfg Config, mod *model.Module) *state {
	s := &state{
		cfg:     cfg,
		mod:     mod,
		parent:  make(map[metadata.Token]metadata.Token),
		mapping: newTokenMapping(),
		strings: metadata.NewStringsBuffer(),
		blobs:   metadata.NewBlobBuffer(),
		guids:   metadata.NewGUIDBuffer(),
	}
	for i := range s.regs {
		s.regs[i] = &registry{seen: make(map[uint32]bool)}
	}
	return s
}

func (s *state) reg(kind metadata.TableKind) *registry {
	return s.regs[kind]
}

func (s *state) internStrings(values ...string) error {
	for _, v := range values {
		if _, err := s.strings.Intern(v); err != nil {
			return err
		}
	}
	return nil
}

func (s *state) internBlobs(values ...[]byte) error {
	for _, v := range values {
		if _, err := s.blobs.Intern(v); err != nil {
			return err
		}
	}
	return nil
}

// owned registers a child row under its parent. A row listed by two
// parents cannot form contiguous runs.
func (s *state) owned(child, parent metadata.Token) error {
	if !s.reg(child.Table()).add(child.Rid()) {
		return errors.InvalidInput(errors.PhaseBuild,
			fmt.Sprintf("%s %s is owned by %s and %s", child.Table(), child, s.parent[child], parent))
	}
	s.parent[child] = parent
	return nil
}

func (s *state) visitSig(sig signature.Signature) error {
	for _, tok := range signature.Tokens(sig) {
		if err := s.visit(tok); err != nil {
			return err
		}
	}
	return nil
}

// collect walks the module from its root and registers every row.
func (s *state) collect() error {
	m := s.mod
	s.reg(metadata.TableModule).add(1)
	if err := s.internStrings(m.Name); err != nil {
		return err
	}
	for _, g := range []uuid.UUID{m.Mvid, m.EncID, m.EncBaseID} {
		if _, err := s.guids.Intern(g); err != nil {
			return err
		}
	}

	if a := m.Assembly; a != nil {
		s.reg(metadata.TableAssembly).add(1)
		if err := s.internBlobs(a.PublicKey); err != nil {
			return err
		}
		if err := s.internStrings(a.Name, a.Culture); err != nil {
			return err
		}
	}

	for i, t := range m.TypeDefs {
		s.reg(metadata.TableTypeDef).add(uint32(i + 1))
		if err := s.internStrings(t.Name, t.Namespace); err != nil {
			return err
		}
	}
	for i, t := range m.TypeDefs {
		tok := metadata.NewToken(metadata.TableTypeDef, uint32(i+1))
		if err := s.collectType(tok, t); err != nil {
			return fmt.Errorf("type %s.%s: %w", t.Namespace, t.Name, err)
		}
	}

	// References nothing above reached, such as those used only by method
	// bodies, follow in arena order.
	remaining := []struct {
		kind metadata.TableKind
		n    int
	}{
		{metadata.TableAssemblyRef, len(m.AssemblyRefs)},
		{metadata.TableModuleRef, len(m.ModuleRefs)},
		{metadata.TableTypeRef, len(m.TypeRefs)},
		{metadata.TableTypeSpec, len(m.TypeSpecs)},
		{metadata.TableMemberRef, len(m.MemberRefs)},
		{metadata.TableMethodSpec, len(m.MethodSpecs)},
		{metadata.TableStandAloneSig, len(m.StandAloneSigs)},
		{metadata.TableFile, len(m.Files)},
		{metadata.TableExportedType, len(m.ExportedTypes)},
		{metadata.TableManifestResource, len(m.Resources)},
	}
	for _, r := range remaining {
		for rid := 1; rid <= r.n; rid++ {
			if err := s.visit(metadata.NewToken(r.kind, uint32(rid))); err != nil {
				return err
			}
		}
	}

	// Their blobs are interned once sorted, see order.
	for i, d := range m.DeclSecurities {
		s.reg(metadata.TableDeclSecurity).add(uint32(i + 1))
		if err := s.visit(d.Parent); err != nil {
			return err
		}
	}
	for i, ca := range m.CustomAttributes {
		s.reg(metadata.TableCustomAttribute).add(uint32(i + 1))
		if err := s.visit(ca.Parent); err != nil {
			return err
		}
		if err := s.visit(ca.Constructor); err != nil {
			return err
		}
	}
	return nil
}

func (s *state) collectType(tok metadata.Token, t *model.TypeDef) error {
	m := s.mod
	if err := s.visit(t.Extends); err != nil {
		return err
	}

	for _, ftok := range t.Fields {
		f, ok := m.Field(ftok)
		if !ok {
			return errors.NotFound(errors.PhaseBuild, "field", ftok.String())
		}
		if err := s.owned(ftok, tok); err != nil {
			return err
		}
		if err := s.internStrings(f.Name); err != nil {
			return err
		}
		if err := s.collectConstant(f.Constant); err != nil {
			return err
		}
		if err := s.internBlobs(f.Marshal); err != nil {
			return err
		}
		if err := s.collectImplMap(f.ImplMap); err != nil {
			return err
		}
		if err := s.visitSig(f.Signature); err != nil {
			return err
		}
	}

	for _, mtok := range t.Methods {
		md, ok := m.Method(mtok)
		if !ok {
			return errors.NotFound(errors.PhaseBuild, "method", mtok.String())
		}
		if err := s.owned(mtok, tok); err != nil {
			return err
		}
		if err := s.internStrings(md.Name); err != nil {
			return err
		}
		if err := s.collectImplMap(md.ImplMap); err != nil {
			return err
		}
		if err := s.visitSig(md.Signature); err != nil {
			return err
		}
		for _, ptok := range md.Params {
			p, ok := m.Lookup(ptok)
			if !ok || ptok.Table() != metadata.TableParam {
				return errors.NotFound(errors.PhaseBuild, "param", ptok.String())
			}
			if err := s.owned(ptok, mtok); err != nil {
				return err
			}
			param := p.(*model.ParamDef)
			if err := s.internStrings(param.Name); err != nil {
				return err
			}
			if err := s.collectConstant(param.Constant); err != nil {
				return err
			}
			if err := s.internBlobs(param.Marshal); err != nil {
				return err
			}
		}
		if err := s.collectGenericParams(md.GenericParams); err != nil {
			return err
		}
	}

	for _, ptok := range t.Properties {
		v, ok := m.Lookup(ptok)
		if !ok || ptok.Table() != metadata.TableProperty {
			return errors.NotFound(errors.PhaseBuild, "property", ptok.String())
		}
		if err := s.owned(ptok, tok); err != nil {
			return err
		}
		p := v.(*model.PropertyDef)
		if err := s.internStrings(p.Name); err != nil {
			return err
		}
		if err := s.collectConstant(p.Constant); err != nil {
			return err
		}
		if err := s.visitSig(p.Signature); err != nil {
			return err
		}
	}

	for _, etok := range t.Events {
		v, ok := m.Lookup(etok)
		if !ok || etok.Table() != metadata.TableEvent {
			return errors.NotFound(errors.PhaseBuild, "event", etok.String())
		}
		if err := s.owned(etok, tok); err != nil {
			return err
		}
		e := v.(*model.EventDef)
		if err := s.internStrings(e.Name); err != nil {
			return err
		}
		if err := s.visit(e.EventType); err != nil {
			return err
		}
	}

	for _, itok := range t.Interfaces {
		v, ok := m.Lookup(itok)
		if !ok || itok.Table() != metadata.TableInterfaceImpl {
			return errors.NotFound(errors.PhaseBuild, "interface impl", itok.String())
		}
		if err := s.owned(itok, tok); err != nil {
			return err
		}
		if err := s.visit(v.(*model.InterfaceImpl).Interface); err != nil {
			return err
		}
	}

	if err := s.collectGenericParams(t.GenericParams); err != nil {
		return err
	}

	for _, mi := range t.MethodImpls {
		if err := s.visit(mi.Body); err != nil {
			return err
		}
		if err := s.visit(mi.Declaration); err != nil {
			return err
		}
	}
	return nil
}

func (s *state) collectConstant(c *model.Constant) error {
	if c == nil {
		return nil
	}
	return s.internBlobs(c.Value)
}

func (s *state) collectImplMap(im *model.ImplMap) error {
	if im == nil {
		return nil
	}
	if err := s.internStrings(im.Name); err != nil {
		return err
	}
	return s.visit(im.Scope)
}

func (s *state) collectGenericParams(list []metadata.Token) error {
	for _, gtok := range list {
		v, ok := s.mod.Lookup(gtok)
		if !ok || gtok.Table() != metadata.TableGenericParam {
			return errors.NotFound(errors.PhaseBuild, "generic parameter", gtok.String())
		}
		gp := v.(*model.GenericParam)
		if !s.reg(metadata.TableGenericParam).add(gtok.Rid()) {
			return errors.InvalidInput(errors.PhaseBuild, "generic parameter "+gtok.String()+" has two owners")
		}
		if err := s.internStrings(gp.Name); err != nil {
			return err
		}
		for _, ctok := range gp.Constraints {
			v, ok := s.mod.Lookup(ctok)
			if !ok || ctok.Table() != metadata.TableGenericParamConstraint {
				return errors.NotFound(errors.PhaseBuild, "generic parameter constraint", ctok.String())
			}
			s.reg(metadata.TableGenericParamConstraint).add(ctok.Rid())
			if err := s.visit(v.(*model.GenericParamConstraint).Constraint); err != nil {
				return err
			}
		}
	}
	return nil
}

// visit registers a referenced row and, on first sight, everything it
// references. Definition rows are registered by the type walk.
func (s *state) visit(tok metadata.Token) error {
	if tok.IsNil() {
		return nil
	}
	m := s.mod
	v, ok := m.Lookup(tok)
	if !ok {
		return errors.NotFound(errors.PhaseBuild, "row", tok.String())
	}

	switch tok.Table() {
	case metadata.TableModule, metadata.TableAssembly, metadata.TableTypeDef, metadata.TableField,
		metadata.TableMethod, metadata.TableParam, metadata.TableProperty, metadata.TableEvent,
		metadata.TableInterfaceImpl, metadata.TableGenericParam, metadata.TableGenericParamConstraint,
		metadata.TableDeclSecurity:
		return nil
	case metadata.TableCustomAttribute:
		return errors.Unsupported(errors.PhaseBuild, "reference to a custom attribute row")
	}

	if !s.reg(tok.Table()).add(tok.Rid()) {
		return nil
	}

	switch r := v.(type) {
	case *model.TypeRef:
		if err := s.internStrings(r.Name, r.Namespace); err != nil {
			return err
		}
		return s.visit(r.ResolutionScope)
	case *model.AssemblyRef:
		if err := s.internBlobs(r.PublicKeyOrToken); err != nil {
			return err
		}
		if err := s.internStrings(r.Name, r.Culture); err != nil {
			return err
		}
		return s.internBlobs(r.HashValue)
	case *model.ModuleRef:
		return s.internStrings(r.Name)
	case *model.File:
		if err := s.internStrings(r.Name); err != nil {
			return err
		}
		return s.internBlobs(r.HashValue)
	case *model.TypeSpec:
		return s.visitSig(r.Signature)
	case *model.MemberRef:
		if err := s.visit(r.Class); err != nil {
			return err
		}
		if err := s.internStrings(r.Name); err != nil {
			return err
		}
		return s.visitSig(r.Signature)
	case *model.MethodSpec:
		if err := s.visit(r.Method); err != nil {
			return err
		}
		return s.visitSig(r.Instantiation)
	case *model.StandAloneSig:
		return s.visitSig(r.Signature)
	case *model.ExportedType:
		if err := s.internStrings(r.Name, r.Namespace); err != nil {
			return err
		}
		return s.visit(r.Implementation)
	case *model.ManifestResource:
		if err := s.internStrings(r.Name); err != nil {
			return err
		}
		return s.visit(r.Implementation)
	}
	return errors.Unsupported(errors.PhaseBuild, "reference to "+tok.Table().String())
}
