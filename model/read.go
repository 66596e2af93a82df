package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/metadata"
	"github.com/wippyai/clrmeta/signature"
)

type reader struct {
	md  *metadata.Metadata
	t   *metadata.TablesStream
	src metadata.Source
	mod *Module
}

// Read builds the object graph of md. src is used to load field initial
// data by RVA and may be nil.
func Read(md *metadata.Metadata, src metadata.Source) (*Module, error) {
	start := time.Now()
	r := &reader{
		md:  md,
		t:   md.Tables,
		src: src,
		mod: &Module{RuntimeVersion: md.Version, UserStrings: md.UserStrings},
	}

	steps := []struct {
		table metadata.TableKind
		fn    func() error
	}{
		{metadata.TableModule, r.readModule},
		{metadata.TableAssembly, r.readAssembly},
		{metadata.TableAssemblyRef, r.readAssemblyRefs},
		{metadata.TableModuleRef, r.readModuleRefs},
		{metadata.TableFile, r.readFiles},
		{metadata.TableTypeRef, r.readTypeRefs},
		{metadata.TableField, r.readFields},
		{metadata.TableMethod, r.readMethods},
		{metadata.TableParam, r.readParams},
		{metadata.TableProperty, r.readProperties},
		{metadata.TableEvent, r.readEvents},
		{metadata.TableTypeDef, r.readTypeDefs},
		{metadata.TablePropertyMap, r.readPropertyMap},
		{metadata.TableEventMap, r.readEventMap},
		{metadata.TableNestedClass, r.readNestedClasses},
		{metadata.TableClassLayout, r.readClassLayouts},
		{metadata.TableInterfaceImpl, r.readInterfaceImpls},
		{metadata.TableMemberRef, r.readMemberRefs},
		{metadata.TableTypeSpec, r.readTypeSpecs},
		{metadata.TableMethodSpec, r.readMethodSpecs},
		{metadata.TableStandAloneSig, r.readStandAloneSigs},
		{metadata.TableConstant, r.readConstants},
		{metadata.TableFieldMarshal, r.readFieldMarshals},
		{metadata.TableFieldLayout, r.readFieldLayouts},
		{metadata.TableFieldRVA, r.readFieldRVAs},
		{metadata.TableImplMap, r.readImplMaps},
		{metadata.TableMethodSemantics, r.readMethodSemantics},
		{metadata.TableMethodImpl, r.readMethodImpls},
		{metadata.TableGenericParam, r.readGenericParams},
		{metadata.TableGenericParamConstraint, r.readGenericParamConstraints},
		{metadata.TableCustomAttribute, r.readCustomAttributes},
		{metadata.TableDeclSecurity, r.readDeclSecurities},
		{metadata.TableExportedType, r.readExportedTypes},
		{metadata.TableManifestResource, r.readResources},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return nil, errors.New(errors.PhaseRead, errors.KindInvalidData).
				Path(s.table.String()).
				Cause(err).
				Detail("table rows do not form a module").
				Build()
		}
	}

	metadata.Logger().Debug("module graph read",
		zap.String("module", r.mod.Name),
		zap.Int("types", len(r.mod.TypeDefs)),
		zap.Int("methods", len(r.mod.Methods)),
		zap.Duration("elapsed", time.Since(start)))
	return r.mod, nil
}

func (r *reader) rows(kind metadata.TableKind) []metadata.Row {
	return r.t.Table(kind).Rows()
}

func (r *reader) str(off uint32) (string, error) {
	return r.md.Strings.Get(off)
}

func (r *reader) blob(off uint32) ([]byte, error) {
	b, err := r.md.Blob.Get(off)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	return append([]byte(nil), b...), nil
}

func (r *reader) guid(idx uint32) (uuid.UUID, error) {
	return r.md.GUID.Get(idx)
}

func (r *reader) sig(off uint32) (signature.Signature, error) {
	b, err := r.md.Blob.Get(off)
	if err != nil {
		return nil, err
	}
	return signature.DecodeOrRaw(b), nil
}

func (r *reader) names(row metadata.Row, name, ns int) (string, string, error) {
	n, err := r.str(row[name])
	if err != nil {
		return "", "", err
	}
	s, err := r.str(row[ns])
	if err != nil {
		return "", "", err
	}
	return n, s, nil
}

func invalid(kind metadata.TableKind, rid int, detail string) error {
	return errors.InvalidData(errors.PhaseRead, []string{kind.String(), strconv.Itoa(rid)}, detail)
}

// list expands a list column into child tokens, following the pointer
// table of uncompressed streams when it has rows.
func (r *reader) list(parent metadata.TableKind, rid uint32, column int, child, ptr metadata.TableKind) []metadata.Token {
	start, end := r.t.ListRange(parent, rid, column)
	if start == 0 {
		start = 1
	}
	pt := r.t.Table(ptr)
	var out []metadata.Token
	for i := start; i < end; i++ {
		target := i
		if pt.Len() > 0 {
			row, ok := pt.Row(i)
			if !ok {
				continue
			}
			target = row[0]
		}
		out = append(out, metadata.NewToken(child, target))
	}
	return out
}

func (r *reader) readModule() error {
	rows := r.rows(metadata.TableModule)
	if len(rows) == 0 {
		return invalid(metadata.TableModule, 1, "module row missing")
	}
	row := rows[0]
	m := r.mod
	m.Generation = uint16(row[0])
	var err error
	if m.Name, err = r.str(row[1]); err != nil {
		return err
	}
	if m.Mvid, err = r.guid(row[2]); err != nil {
		return err
	}
	if m.EncID, err = r.guid(row[3]); err != nil {
		return err
	}
	if m.EncBaseID, err = r.guid(row[4]); err != nil {
		return err
	}
	return nil
}

func version(row metadata.Row, first int) Version {
	return Version{
		Major:    uint16(row[first]),
		Minor:    uint16(row[first+1]),
		Build:    uint16(row[first+2]),
		Revision: uint16(row[first+3]),
	}
}

func (r *reader) readAssembly() error {
	rows := r.rows(metadata.TableAssembly)
	if len(rows) == 0 {
		return nil
	}
	row := rows[0]
	a := &Assembly{HashAlgorithm: row[0], Version: version(row, 1), Flags: row[5]}
	var err error
	if a.PublicKey, err = r.blob(row[6]); err != nil {
		return err
	}
	if a.Name, a.Culture, err = r.names(row, 7, 8); err != nil {
		return err
	}
	r.mod.Assembly = a
	return nil
}

func (r *reader) readAssemblyRefs() error {
	for _, row := range r.rows(metadata.TableAssemblyRef) {
		a := &AssemblyRef{Version: version(row, 0), Flags: row[4]}
		var err error
		if a.PublicKeyOrToken, err = r.blob(row[5]); err != nil {
			return err
		}
		if a.Name, a.Culture, err = r.names(row, 6, 7); err != nil {
			return err
		}
		if a.HashValue, err = r.blob(row[8]); err != nil {
			return err
		}
		r.mod.AssemblyRefs = append(r.mod.AssemblyRefs, a)
	}
	return nil
}

func (r *reader) readModuleRefs() error {
	for _, row := range r.rows(metadata.TableModuleRef) {
		name, err := r.str(row[0])
		if err != nil {
			return err
		}
		r.mod.ModuleRefs = append(r.mod.ModuleRefs, &ModuleRef{Name: name})
	}
	return nil
}

func (r *reader) readFiles() error {
	for _, row := range r.rows(metadata.TableFile) {
		f := &File{Flags: row[0]}
		var err error
		if f.Name, err = r.str(row[1]); err != nil {
			return err
		}
		if f.HashValue, err = r.blob(row[2]); err != nil {
			return err
		}
		r.mod.Files = append(r.mod.Files, f)
	}
	return nil
}

func (r *reader) readTypeRefs() error {
	for _, row := range r.rows(metadata.TableTypeRef) {
		scope, err := metadata.CodedResolutionScope.Decode(row[0])
		if err != nil {
			return err
		}
		t := &TypeRef{ResolutionScope: scope}
		if t.Name, t.Namespace, err = r.names(row, 1, 2); err != nil {
			return err
		}
		r.mod.TypeRefs = append(r.mod.TypeRefs, t)
	}
	return nil
}

func (r *reader) readFields() error {
	for _, row := range r.rows(metadata.TableField) {
		f := &FieldDef{Flags: uint16(row[0])}
		var err error
		if f.Name, err = r.str(row[1]); err != nil {
			return err
		}
		if f.Signature, err = r.sig(row[2]); err != nil {
			return err
		}
		r.mod.Fields = append(r.mod.Fields, f)
	}
	return nil
}

func (r *reader) readMethods() error {
	for _, row := range r.rows(metadata.TableMethod) {
		m := &MethodDef{RVA: row[0], ImplFlags: uint16(row[1]), Flags: uint16(row[2])}
		var err error
		if m.Name, err = r.str(row[3]); err != nil {
			return err
		}
		if m.Signature, err = r.sig(row[4]); err != nil {
			return err
		}
		r.mod.Methods = append(r.mod.Methods, m)
	}
	for i := range r.mod.Methods {
		rid := uint32(i + 1)
		r.mod.Methods[i].Params = r.list(metadata.TableMethod, rid, 5, metadata.TableParam, metadata.TableParamPtr)
	}
	return nil
}

func (r *reader) readParams() error {
	for _, row := range r.rows(metadata.TableParam) {
		p := &ParamDef{Flags: uint16(row[0]), Sequence: uint16(row[1])}
		var err error
		if p.Name, err = r.str(row[2]); err != nil {
			return err
		}
		r.mod.Params = append(r.mod.Params, p)
	}
	for i, m := range r.mod.Methods {
		owner := metadata.NewToken(metadata.TableMethod, uint32(i+1))
		for _, tok := range m.Params {
			p, ok := at(r.mod.Params, tok.Rid())
			if !ok {
				return invalid(metadata.TableMethod, i+1, "param list out of range")
			}
			p.Method = owner
		}
	}
	return nil
}

func (r *reader) readProperties() error {
	for _, row := range r.rows(metadata.TableProperty) {
		p := &PropertyDef{Flags: uint16(row[0])}
		var err error
		if p.Name, err = r.str(row[1]); err != nil {
			return err
		}
		if p.Signature, err = r.sig(row[2]); err != nil {
			return err
		}
		r.mod.Properties = append(r.mod.Properties, p)
	}
	return nil
}

func (r *reader) readEvents() error {
	for _, row := range r.rows(metadata.TableEvent) {
		e := &EventDef{Flags: uint16(row[0])}
		var err error
		if e.Name, err = r.str(row[1]); err != nil {
			return err
		}
		if e.EventType, err = metadata.CodedTypeDefOrRef.Decode(row[2]); err != nil {
			return err
		}
		r.mod.Events = append(r.mod.Events, e)
	}
	return nil
}

func (r *reader) readTypeDefs() error {
	for i, row := range r.rows(metadata.TableTypeDef) {
		rid := uint32(i + 1)
		self := metadata.NewToken(metadata.TableTypeDef, rid)
		t := &TypeDef{Flags: row[0]}
		var err error
		if t.Name, t.Namespace, err = r.names(row, 1, 2); err != nil {
			return err
		}
		if t.Extends, err = metadata.CodedTypeDefOrRef.Decode(row[3]); err != nil {
			return err
		}
		t.Fields = r.list(metadata.TableTypeDef, rid, 4, metadata.TableField, metadata.TableFieldPtr)
		t.Methods = r.list(metadata.TableTypeDef, rid, 5, metadata.TableMethod, metadata.TableMethodPtr)
		for _, tok := range t.Fields {
			f, ok := at(r.mod.Fields, tok.Rid())
			if !ok {
				return invalid(metadata.TableTypeDef, i+1, "field list out of range")
			}
			f.DeclaringType = self
		}
		for _, tok := range t.Methods {
			m, ok := at(r.mod.Methods, tok.Rid())
			if !ok {
				return invalid(metadata.TableTypeDef, i+1, "method list out of range")
			}
			m.DeclaringType = self
		}
		r.mod.TypeDefs = append(r.mod.TypeDefs, t)
	}
	return nil
}

func (r *reader) owningType(kind metadata.TableKind, rid int, parent uint32) (*TypeDef, metadata.Token, error) {
	tok := metadata.NewToken(metadata.TableTypeDef, parent)
	t, ok := r.mod.TypeDef(tok)
	if !ok {
		return nil, 0, invalid(kind, rid, "parent type out of range")
	}
	return t, tok, nil
}

func (r *reader) readPropertyMap() error {
	for i, row := range r.rows(metadata.TablePropertyMap) {
		t, owner, err := r.owningType(metadata.TablePropertyMap, i+1, row[0])
		if err != nil {
			return err
		}
		list := r.list(metadata.TablePropertyMap, uint32(i+1), 1, metadata.TableProperty, metadata.TablePropertyPtr)
		for _, tok := range list {
			p, ok := at(r.mod.Properties, tok.Rid())
			if !ok {
				return invalid(metadata.TablePropertyMap, i+1, "property list out of range")
			}
			p.DeclaringType = owner
		}
		t.Properties = append(t.Properties, list...)
	}
	return nil
}

func (r *reader) readEventMap() error {
	for i, row := range r.rows(metadata.TableEventMap) {
		t, owner, err := r.owningType(metadata.TableEventMap, i+1, row[0])
		if err != nil {
			return err
		}
		list := r.list(metadata.TableEventMap, uint32(i+1), 1, metadata.TableEvent, metadata.TableEventPtr)
		for _, tok := range list {
			e, ok := at(r.mod.Events, tok.Rid())
			if !ok {
				return invalid(metadata.TableEventMap, i+1, "event list out of range")
			}
			e.DeclaringType = owner
		}
		t.Events = append(t.Events, list...)
	}
	return nil
}

func (r *reader) readNestedClasses() error {
	for i, row := range r.rows(metadata.TableNestedClass) {
		t, _, err := r.owningType(metadata.TableNestedClass, i+1, row[0])
		if err != nil {
			return err
		}
		if _, _, err := r.owningType(metadata.TableNestedClass, i+1, row[1]); err != nil {
			return err
		}
		t.DeclaringType = metadata.NewToken(metadata.TableTypeDef, row[1])
	}
	return nil
}

func (r *reader) readClassLayouts() error {
	for i, row := range r.rows(metadata.TableClassLayout) {
		t, _, err := r.owningType(metadata.TableClassLayout, i+1, row[2])
		if err != nil {
			return err
		}
		t.Layout = &ClassLayout{PackingSize: uint16(row[0]), ClassSize: row[1]}
	}
	return nil
}

func (r *reader) readInterfaceImpls() error {
	for i, row := range r.rows(metadata.TableInterfaceImpl) {
		t, class, err := r.owningType(metadata.TableInterfaceImpl, i+1, row[0])
		if err != nil {
			return err
		}
		iface, err := metadata.CodedTypeDefOrRef.Decode(row[1])
		if err != nil {
			return err
		}
		r.mod.InterfaceImpls = append(r.mod.InterfaceImpls, &InterfaceImpl{Class: class, Interface: iface})
		t.Interfaces = append(t.Interfaces, metadata.NewToken(metadata.TableInterfaceImpl, uint32(i+1)))
	}
	return nil
}

func (r *reader) readMemberRefs() error {
	for _, row := range r.rows(metadata.TableMemberRef) {
		class, err := metadata.CodedMemberRefParent.Decode(row[0])
		if err != nil {
			return err
		}
		m := &MemberRef{Class: class}
		if m.Name, err = r.str(row[1]); err != nil {
			return err
		}
		if m.Signature, err = r.sig(row[2]); err != nil {
			return err
		}
		r.mod.MemberRefs = append(r.mod.MemberRefs, m)
	}
	return nil
}

func (r *reader) readTypeSpecs() error {
	for _, row := range r.rows(metadata.TableTypeSpec) {
		b, err := r.md.Blob.Get(row[0])
		if err != nil {
			return err
		}
		r.mod.TypeSpecs = append(r.mod.TypeSpecs, &TypeSpec{Signature: signature.TypeSpecOrRaw(b)})
	}
	return nil
}

func (r *reader) readMethodSpecs() error {
	for _, row := range r.rows(metadata.TableMethodSpec) {
		method, err := metadata.CodedMethodDefOrRef.Decode(row[0])
		if err != nil {
			return err
		}
		inst, err := r.sig(row[1])
		if err != nil {
			return err
		}
		r.mod.MethodSpecs = append(r.mod.MethodSpecs, &MethodSpec{Method: method, Instantiation: inst})
	}
	return nil
}

func (r *reader) readStandAloneSigs() error {
	for _, row := range r.rows(metadata.TableStandAloneSig) {
		s, err := r.sig(row[0])
		if err != nil {
			return err
		}
		r.mod.StandAloneSigs = append(r.mod.StandAloneSigs, &StandAloneSig{Signature: s})
	}
	return nil
}

func (r *reader) readConstants() error {
	for i, row := range r.rows(metadata.TableConstant) {
		parent, err := metadata.CodedHasConstant.Decode(row[1])
		if err != nil {
			return err
		}
		value, err := r.blob(row[2])
		if err != nil {
			return err
		}
		c := &Constant{Type: signature.ElementType(row[0] & 0xFF), Value: value}
		switch parent.Table() {
		case metadata.TableField:
			if f, ok := r.mod.Field(parent); ok {
				f.Constant = c
				continue
			}
		case metadata.TableParam:
			if p, ok := at(r.mod.Params, parent.Rid()); ok {
				p.Constant = c
				continue
			}
		case metadata.TableProperty:
			if p, ok := at(r.mod.Properties, parent.Rid()); ok {
				p.Constant = c
				continue
			}
		}
		return invalid(metadata.TableConstant, i+1, "parent "+parent.String()+" out of range")
	}
	return nil
}

func (r *reader) readFieldMarshals() error {
	for i, row := range r.rows(metadata.TableFieldMarshal) {
		parent, err := metadata.CodedHasFieldMarshal.Decode(row[0])
		if err != nil {
			return err
		}
		native, err := r.blob(row[1])
		if err != nil {
			return err
		}
		switch parent.Table() {
		case metadata.TableField:
			if f, ok := r.mod.Field(parent); ok {
				f.Marshal = native
				continue
			}
		case metadata.TableParam:
			if p, ok := at(r.mod.Params, parent.Rid()); ok {
				p.Marshal = native
				continue
			}
		}
		return invalid(metadata.TableFieldMarshal, i+1, "parent "+parent.String()+" out of range")
	}
	return nil
}

func (r *reader) field(kind metadata.TableKind, rid int, field uint32) (*FieldDef, error) {
	f, ok := at(r.mod.Fields, field)
	if !ok {
		return nil, invalid(kind, rid, "field out of range")
	}
	return f, nil
}

func (r *reader) readFieldLayouts() error {
	for i, row := range r.rows(metadata.TableFieldLayout) {
		f, err := r.field(metadata.TableFieldLayout, i+1, row[1])
		if err != nil {
			return err
		}
		f.HasOffset = true
		f.Offset = row[0]
	}
	return nil
}

func (r *reader) readFieldRVAs() error {
	for i, row := range r.rows(metadata.TableFieldRVA) {
		f, err := r.field(metadata.TableFieldRVA, i+1, row[1])
		if err != nil {
			return err
		}
		f.RVA = row[0]
		if r.src == nil || f.RVA == 0 {
			continue
		}
		size := r.fieldDataSize(f)
		if size == 0 {
			continue
		}
		if data, ok := metadata.ReadRVA(r.src, f.RVA, size); ok {
			f.InitialValue = append([]byte(nil), data...)
		} else {
			metadata.Logger().Debug("field data outside image",
				zap.String("field", f.Name), zap.Uint32("rva", f.RVA))
		}
	}
	return nil
}

// fieldDataSize returns the byte size of a field's static data: primitives
// by element type, value types by explicit class size or enum underlying type.
func (r *reader) fieldDataSize(f *FieldDef) uint32 {
	fs, ok := f.Signature.(*signature.FieldSig)
	if !ok {
		return 0
	}
	switch t := fs.Type.(type) {
	case *signature.CorLibType:
		return t.Type.Size()
	case *signature.TypeDefOrRef:
		td, ok := r.mod.TypeDef(t.Token)
		if !ok {
			return 0
		}
		if td.Layout != nil && td.Layout.ClassSize > 0 {
			return td.Layout.ClassSize
		}
		for _, tok := range td.Fields {
			if vf, ok := r.mod.Field(tok); ok && vf.Name == "value__" {
				if vs, ok := vf.Signature.(*signature.FieldSig); ok {
					if c, ok := vs.Type.(*signature.CorLibType); ok {
						return c.Type.Size()
					}
				}
			}
		}
	}
	return 0
}

func (r *reader) readImplMaps() error {
	for i, row := range r.rows(metadata.TableImplMap) {
		member, err := metadata.CodedMemberForwarded.Decode(row[1])
		if err != nil {
			return err
		}
		im := &ImplMap{Flags: uint16(row[0]), Scope: metadata.NewToken(metadata.TableModuleRef, row[3])}
		if im.Name, err = r.str(row[2]); err != nil {
			return err
		}
		switch member.Table() {
		case metadata.TableMethod:
			if m, ok := r.mod.Method(member); ok {
				m.ImplMap = im
				continue
			}
		case metadata.TableField:
			if f, ok := r.mod.Field(member); ok {
				f.ImplMap = im
				continue
			}
		}
		return invalid(metadata.TableImplMap, i+1, "member "+member.String()+" out of range")
	}
	return nil
}

func (r *reader) readMethodSemantics() error {
	for i, row := range r.rows(metadata.TableMethodSemantics) {
		assoc, err := metadata.CodedHasSemantics.Decode(row[2])
		if err != nil {
			return err
		}
		s := MethodSemantic{Attributes: uint16(row[0]), Method: metadata.NewToken(metadata.TableMethod, row[1])}
		switch assoc.Table() {
		case metadata.TableProperty:
			if p, ok := at(r.mod.Properties, assoc.Rid()); ok {
				p.Semantics = append(p.Semantics, s)
				continue
			}
		case metadata.TableEvent:
			if e, ok := at(r.mod.Events, assoc.Rid()); ok {
				e.Semantics = append(e.Semantics, s)
				continue
			}
		}
		return invalid(metadata.TableMethodSemantics, i+1, "association "+assoc.String()+" out of range")
	}
	return nil
}

func (r *reader) readMethodImpls() error {
	for i, row := range r.rows(metadata.TableMethodImpl) {
		t, _, err := r.owningType(metadata.TableMethodImpl, i+1, row[0])
		if err != nil {
			return err
		}
		body, err := metadata.CodedMethodDefOrRef.Decode(row[1])
		if err != nil {
			return err
		}
		decl, err := metadata.CodedMethodDefOrRef.Decode(row[2])
		if err != nil {
			return err
		}
		t.MethodImpls = append(t.MethodImpls, MethodImpl{Body: body, Declaration: decl})
	}
	return nil
}

func (r *reader) readGenericParams() error {
	for i, row := range r.rows(metadata.TableGenericParam) {
		owner, err := metadata.CodedTypeOrMethodDef.Decode(row[2])
		if err != nil {
			return err
		}
		gp := &GenericParam{Number: uint16(row[0]), Flags: uint16(row[1]), Owner: owner}
		if gp.Name, err = r.str(row[3]); err != nil {
			return err
		}
		tok := metadata.NewToken(metadata.TableGenericParam, uint32(i+1))
		switch owner.Table() {
		case metadata.TableTypeDef:
			t, ok := r.mod.TypeDef(owner)
			if !ok {
				return invalid(metadata.TableGenericParam, i+1, "owner out of range")
			}
			t.GenericParams = append(t.GenericParams, tok)
		case metadata.TableMethod:
			m, ok := r.mod.Method(owner)
			if !ok {
				return invalid(metadata.TableGenericParam, i+1, "owner out of range")
			}
			m.GenericParams = append(m.GenericParams, tok)
		default:
			return invalid(metadata.TableGenericParam, i+1, "null owner")
		}
		r.mod.GenericParams = append(r.mod.GenericParams, gp)
	}
	return nil
}

func (r *reader) readGenericParamConstraints() error {
	for i, row := range r.rows(metadata.TableGenericParamConstraint) {
		owner := metadata.NewToken(metadata.TableGenericParam, row[0])
		gp, ok := at(r.mod.GenericParams, row[0])
		if !ok {
			return invalid(metadata.TableGenericParamConstraint, i+1, "owner out of range")
		}
		c, err := metadata.CodedTypeDefOrRef.Decode(row[1])
		if err != nil {
			return err
		}
		r.mod.GenericParamConstraints = append(r.mod.GenericParamConstraints,
			&GenericParamConstraint{Owner: owner, Constraint: c})
		gp.Constraints = append(gp.Constraints, metadata.NewToken(metadata.TableGenericParamConstraint, uint32(i+1)))
	}
	return nil
}

func (r *reader) readCustomAttributes() error {
	for _, row := range r.rows(metadata.TableCustomAttribute) {
		parent, err := metadata.CodedHasCustomAttribute.Decode(row[0])
		if err != nil {
			return err
		}
		ctor, err := metadata.CodedCustomAttributeType.Decode(row[1])
		if err != nil {
			return err
		}
		value, err := r.blob(row[2])
		if err != nil {
			return err
		}
		r.mod.CustomAttributes = append(r.mod.CustomAttributes,
			&CustomAttribute{Parent: parent, Constructor: ctor, Value: value})
	}
	return nil
}

func (r *reader) readDeclSecurities() error {
	for _, row := range r.rows(metadata.TableDeclSecurity) {
		parent, err := metadata.CodedHasDeclSecurity.Decode(row[1])
		if err != nil {
			return err
		}
		set, err := r.blob(row[2])
		if err != nil {
			return err
		}
		r.mod.DeclSecurities = append(r.mod.DeclSecurities,
			&DeclSecurity{Action: uint16(row[0]), Parent: parent, PermissionSet: set})
	}
	return nil
}

func (r *reader) readExportedTypes() error {
	for _, row := range r.rows(metadata.TableExportedType) {
		impl, err := metadata.CodedImplementation.Decode(row[4])
		if err != nil {
			return err
		}
		e := &ExportedType{Flags: row[0], TypeDefID: row[1], Implementation: impl}
		if e.Name, e.Namespace, err = r.names(row, 2, 3); err != nil {
			return err
		}
		r.mod.ExportedTypes = append(r.mod.ExportedTypes, e)
	}
	return nil
}

func (r *reader) readResources() error {
	for _, row := range r.rows(metadata.TableManifestResource) {
		impl, err := metadata.CodedImplementation.Decode(row[3])
		if err != nil {
			return err
		}
		res := &ManifestResource{Offset: row[0], Flags: row[1], Implementation: impl}
		if res.Name, err = r.str(row[2]); err != nil {
			return err
		}
		r.mod.Resources = append(r.mod.Resources, res)
	}
	return nil
}
