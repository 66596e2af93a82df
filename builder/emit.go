package builder

import (
	"github.com/google/uuid"

	"github.com/wippyai/clrmeta/metadata"
	"github.com/wippyai/clrmeta/model"
	"github.com/wippyai/clrmeta/signature"
)

// emitter writes rows with final tokens. The first error sticks; later
// calls become no-ops so row literals stay readable.
type emitter struct {
	*state
	tables *metadata.TablesStream
	err    error
}

func (e *emitter) str(v string) uint32 {
	if e.err != nil {
		return 0
	}
	off, err := e.strings.Intern(v)
	e.err = err
	return off
}

func (e *emitter) blob(v []byte) uint32 {
	if e.err != nil {
		return 0
	}
	off, err := e.blobs.Intern(v)
	e.err = err
	return off
}

func (e *emitter) sig(sig signature.Signature) uint32 {
	if e.err != nil || sig == nil {
		return 0
	}
	data, err := signature.Encode(sig, e.mapping.Map)
	if err != nil {
		e.err = err
		return 0
	}
	return e.blob(data)
}

func (e *emitter) rid(tok metadata.Token) uint32 {
	if e.err != nil {
		return 0
	}
	r, err := e.state.rid(tok)
	e.err = err
	return r
}

func (e *emitter) coded(k metadata.CodedIndexKind, tok metadata.Token) uint32 {
	if e.err != nil {
		return 0
	}
	c, err := e.state.coded(k, tok)
	e.err = err
	return c
}

func (e *emitter) add(kind metadata.TableKind, row metadata.Row) {
	if e.err != nil {
		return
	}
	_, e.err = e.tables.Table(kind).Add(row)
}

// addSorted appends rows after a stable sort on the table's key column.
func (e *emitter) addSorted(kind metadata.TableKind, rows []metadata.Row) {
	sortRows(rows, metadata.Layout(kind).Key)
	for _, row := range rows {
		e.add(kind, row)
	}
}

func (e *emitter) mapRVA(tok metadata.Token, rva uint32) uint32 {
	if rva == 0 || e.cfg.RVAMapper == nil {
		return rva
	}
	return e.cfg.RVAMapper(tok, rva)
}

// keyed collects the rows of the tables whose order follows a key column.
type keyed struct {
	constants    []metadata.Row
	marshals     []metadata.Row
	classLayouts []metadata.Row
	fieldLayouts []metadata.Row
	semantics    []metadata.Row
	methodImpls  []metadata.Row
	implMaps     []metadata.Row
	fieldRVAs    []metadata.Row
	nested       []metadata.Row
}

func (s *state) emit() (*metadata.Metadata, error) {
	e := &emitter{state: s, tables: metadata.NewTablesStream()}
	m := s.mod
	var k keyed

	e.add(metadata.TableModule, metadata.Row{
		uint32(m.Generation), e.str(m.Name), e.guid(m.Mvid), e.guid(m.EncID), e.guid(m.EncBaseID),
	})
	if a := m.Assembly; a != nil {
		e.add(metadata.TableAssembly, metadata.Row{
			a.HashAlgorithm, uint32(a.Version.Major), uint32(a.Version.Minor), uint32(a.Version.Build),
			uint32(a.Version.Revision), a.Flags, e.blob(a.PublicKey), e.str(a.Name), e.str(a.Culture),
		})
	}

	fieldStarts := s.listStarts(metadata.TableTypeDef, metadata.TableField)
	methodStarts := s.listStarts(metadata.TableTypeDef, metadata.TableMethod)
	propStarts := s.listStarts(metadata.TableTypeDef, metadata.TableProperty)
	eventStarts := s.listStarts(metadata.TableTypeDef, metadata.TableEvent)
	for _, old := range s.reg(metadata.TableTypeDef).final {
		tok := metadata.NewToken(metadata.TableTypeDef, old)
		t := m.TypeDefs[old-1]
		e.add(metadata.TableTypeDef, metadata.Row{
			t.Flags, e.str(t.Name), e.str(t.Namespace), e.coded(metadata.CodedTypeDefOrRef, t.Extends),
			fieldStarts[old], methodStarts[old],
		})
		rid := e.rid(tok)
		if len(t.Properties) > 0 {
			e.add(metadata.TablePropertyMap, metadata.Row{rid, propStarts[old]})
		}
		if len(t.Events) > 0 {
			e.add(metadata.TableEventMap, metadata.Row{rid, eventStarts[old]})
		}
		if t.IsNested() {
			k.nested = append(k.nested, metadata.Row{rid, e.rid(t.DeclaringType)})
		}
		if l := t.Layout; l != nil {
			k.classLayouts = append(k.classLayouts, metadata.Row{uint32(l.PackingSize), l.ClassSize, rid})
		}
		for _, mi := range t.MethodImpls {
			k.methodImpls = append(k.methodImpls, metadata.Row{
				rid, e.coded(metadata.CodedMethodDefOrRef, mi.Body), e.coded(metadata.CodedMethodDefOrRef, mi.Declaration),
			})
		}
	}

	for _, old := range s.reg(metadata.TableField).final {
		tok := metadata.NewToken(metadata.TableField, old)
		f := m.Fields[old-1]
		rid := e.rid(tok)
		e.add(metadata.TableField, metadata.Row{uint32(f.Flags), e.str(f.Name), e.sig(f.Signature)})
		if f.Constant != nil {
			k.constants = append(k.constants, e.constant(f.Constant, tok))
		}
		if f.Marshal != nil {
			k.marshals = append(k.marshals, metadata.Row{e.coded(metadata.CodedHasFieldMarshal, tok), e.blob(f.Marshal)})
		}
		if f.ImplMap != nil {
			k.implMaps = append(k.implMaps, e.implMap(f.ImplMap, tok))
		}
		if f.HasOffset {
			k.fieldLayouts = append(k.fieldLayouts, metadata.Row{f.Offset, rid})
		}
		if f.RVA != 0 {
			k.fieldRVAs = append(k.fieldRVAs, metadata.Row{e.mapRVA(tok, f.RVA), rid})
		}
	}

	paramStarts := s.listStarts(metadata.TableMethod, metadata.TableParam)
	for _, old := range s.reg(metadata.TableMethod).final {
		tok := metadata.NewToken(metadata.TableMethod, old)
		md := m.Methods[old-1]
		e.add(metadata.TableMethod, metadata.Row{
			e.mapRVA(tok, md.RVA), uint32(md.ImplFlags), uint32(md.Flags), e.str(md.Name), e.sig(md.Signature),
			paramStarts[old],
		})
		if md.ImplMap != nil {
			k.implMaps = append(k.implMaps, e.implMap(md.ImplMap, tok))
		}
	}

	for _, old := range s.reg(metadata.TableParam).final {
		tok := metadata.NewToken(metadata.TableParam, old)
		p := m.Params[old-1]
		e.add(metadata.TableParam, metadata.Row{uint32(p.Flags), uint32(p.Sequence), e.str(p.Name)})
		if p.Constant != nil {
			k.constants = append(k.constants, e.constant(p.Constant, tok))
		}
		if p.Marshal != nil {
			k.marshals = append(k.marshals, metadata.Row{e.coded(metadata.CodedHasFieldMarshal, tok), e.blob(p.Marshal)})
		}
	}

	for _, old := range s.reg(metadata.TableProperty).final {
		tok := metadata.NewToken(metadata.TableProperty, old)
		p := m.Properties[old-1]
		e.add(metadata.TableProperty, metadata.Row{uint32(p.Flags), e.str(p.Name), e.sig(p.Signature)})
		if p.Constant != nil {
			k.constants = append(k.constants, e.constant(p.Constant, tok))
		}
		k.semantics = append(k.semantics, e.semantics(p.Semantics, tok)...)
	}

	for _, old := range s.reg(metadata.TableEvent).final {
		tok := metadata.NewToken(metadata.TableEvent, old)
		ev := m.Events[old-1]
		e.add(metadata.TableEvent, metadata.Row{
			uint32(ev.Flags), e.str(ev.Name), e.coded(metadata.CodedTypeDefOrRef, ev.EventType),
		})
		k.semantics = append(k.semantics, e.semantics(ev.Semantics, tok)...)
	}

	for _, old := range s.reg(metadata.TableInterfaceImpl).final {
		ii := m.InterfaceImpls[old-1]
		e.add(metadata.TableInterfaceImpl, metadata.Row{
			e.rid(ii.Class), e.coded(metadata.CodedTypeDefOrRef, ii.Interface),
		})
	}

	e.emitReferences()

	for _, old := range s.reg(metadata.TableGenericParam).final {
		gp := m.GenericParams[old-1]
		e.add(metadata.TableGenericParam, metadata.Row{
			uint32(gp.Number), uint32(gp.Flags), e.coded(metadata.CodedTypeOrMethodDef, gp.Owner), e.str(gp.Name),
		})
	}
	for _, old := range s.reg(metadata.TableGenericParamConstraint).final {
		c := m.GenericParamConstraints[old-1]
		e.add(metadata.TableGenericParamConstraint, metadata.Row{
			e.rid(c.Owner), e.coded(metadata.CodedTypeDefOrRef, c.Constraint),
		})
	}
	for _, old := range s.reg(metadata.TableDeclSecurity).final {
		d := m.DeclSecurities[old-1]
		e.add(metadata.TableDeclSecurity, metadata.Row{
			uint32(d.Action), e.coded(metadata.CodedHasDeclSecurity, d.Parent), e.blob(d.PermissionSet),
		})
	}
	for _, old := range s.reg(metadata.TableCustomAttribute).final {
		ca := m.CustomAttributes[old-1]
		e.add(metadata.TableCustomAttribute, metadata.Row{
			e.coded(metadata.CodedHasCustomAttribute, ca.Parent),
			e.coded(metadata.CodedCustomAttributeType, ca.Constructor),
			e.blob(ca.Value),
		})
	}

	e.addSorted(metadata.TableConstant, k.constants)
	e.addSorted(metadata.TableFieldMarshal, k.marshals)
	e.addSorted(metadata.TableClassLayout, k.classLayouts)
	e.addSorted(metadata.TableFieldLayout, k.fieldLayouts)
	e.addSorted(metadata.TableMethodSemantics, k.semantics)
	e.addSorted(metadata.TableMethodImpl, k.methodImpls)
	e.addSorted(metadata.TableImplMap, k.implMaps)
	e.addSorted(metadata.TableFieldRVA, k.fieldRVAs)
	e.addSorted(metadata.TableNestedClass, k.nested)
	if e.err != nil {
		return nil, e.err
	}

	return s.root(e.tables)
}

func (e *emitter) emitReferences() {
	m := e.mod
	for _, old := range e.reg(metadata.TableTypeRef).final {
		r := m.TypeRefs[old-1]
		e.add(metadata.TableTypeRef, metadata.Row{
			e.coded(metadata.CodedResolutionScope, r.ResolutionScope), e.str(r.Name), e.str(r.Namespace),
		})
	}
	for _, old := range e.reg(metadata.TableAssemblyRef).final {
		r := m.AssemblyRefs[old-1]
		e.add(metadata.TableAssemblyRef, metadata.Row{
			uint32(r.Version.Major), uint32(r.Version.Minor), uint32(r.Version.Build), uint32(r.Version.Revision),
			r.Flags, e.blob(r.PublicKeyOrToken), e.str(r.Name), e.str(r.Culture), e.blob(r.HashValue),
		})
	}
	for _, old := range e.reg(metadata.TableModuleRef).final {
		e.add(metadata.TableModuleRef, metadata.Row{e.str(m.ModuleRefs[old-1].Name)})
	}
	for _, old := range e.reg(metadata.TableFile).final {
		f := m.Files[old-1]
		e.add(metadata.TableFile, metadata.Row{f.Flags, e.str(f.Name), e.blob(f.HashValue)})
	}
	for _, old := range e.reg(metadata.TableTypeSpec).final {
		e.add(metadata.TableTypeSpec, metadata.Row{e.sig(m.TypeSpecs[old-1].Signature)})
	}
	for _, old := range e.reg(metadata.TableMemberRef).final {
		r := m.MemberRefs[old-1]
		e.add(metadata.TableMemberRef, metadata.Row{
			e.coded(metadata.CodedMemberRefParent, r.Class), e.str(r.Name), e.sig(r.Signature),
		})
	}
	for _, old := range e.reg(metadata.TableMethodSpec).final {
		r := m.MethodSpecs[old-1]
		e.add(metadata.TableMethodSpec, metadata.Row{
			e.coded(metadata.CodedMethodDefOrRef, r.Method), e.sig(r.Instantiation),
		})
	}
	for _, old := range e.reg(metadata.TableStandAloneSig).final {
		e.add(metadata.TableStandAloneSig, metadata.Row{e.sig(m.StandAloneSigs[old-1].Signature)})
	}
	for _, old := range e.reg(metadata.TableExportedType).final {
		r := m.ExportedTypes[old-1]
		e.add(metadata.TableExportedType, metadata.Row{
			r.Flags, r.TypeDefID, e.str(r.Name), e.str(r.Namespace),
			e.coded(metadata.CodedImplementation, r.Implementation),
		})
	}
	for _, old := range e.reg(metadata.TableManifestResource).final {
		r := m.Resources[old-1]
		e.add(metadata.TableManifestResource, metadata.Row{
			r.Offset, r.Flags, e.str(r.Name), e.coded(metadata.CodedImplementation, r.Implementation),
		})
	}
}

func (e *emitter) guid(g uuid.UUID) uint32 {
	if e.err != nil {
		return 0
	}
	idx, err := e.guids.Intern(g)
	e.err = err
	return idx
}

func (e *emitter) constant(c *model.Constant, parent metadata.Token) metadata.Row {
	return metadata.Row{uint32(c.Type), e.coded(metadata.CodedHasConstant, parent), e.blob(c.Value)}
}

func (e *emitter) implMap(im *model.ImplMap, member metadata.Token) metadata.Row {
	return metadata.Row{
		uint32(im.Flags), e.coded(metadata.CodedMemberForwarded, member), e.str(im.Name), e.rid(im.Scope),
	}
}

func (e *emitter) semantics(list []model.MethodSemantic, assoc metadata.Token) []metadata.Row {
	rows := make([]metadata.Row, 0, len(list))
	for _, ms := range list {
		rows = append(rows, metadata.Row{
			uint32(ms.Attributes), e.rid(ms.Method), e.coded(metadata.CodedHasSemantics, assoc),
		})
	}
	return rows
}

// root assembles the heaps and the finalized tables stream into a root.
func (s *state) root(tables *metadata.TablesStream) (*metadata.Metadata, error) {
	us := metadata.NewUserStringsBuffer()
	if s.cfg.PreserveUserStrings && s.mod.UserStrings != nil {
		if err := us.Import(s.mod.UserStrings); err != nil {
			return nil, err
		}
	}

	md := metadata.New()
	switch {
	case s.cfg.MetadataVersion != "":
		md.Version = s.cfg.MetadataVersion
	case s.mod.RuntimeVersion != "":
		md.Version = s.mod.RuntimeVersion
	}
	md.Tables = tables
	md.Strings = metadata.NewStringsHeap(s.strings.Bytes())
	md.Blob = metadata.NewBlobHeap(s.blobs.Bytes())
	md.GUID = metadata.NewGUIDHeap(s.guids.Bytes())
	md.UserStrings = metadata.NewUserStringsHeap(us.Bytes())

	if err := tables.Finalize(metadata.HeapFlagsFor(s.strings.Len(), s.guids.Len(), s.blobs.Len())); err != nil {
		return nil, err
	}
	return md, nil
}
