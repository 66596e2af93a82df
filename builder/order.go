package builder

import (
	"sort"

	"github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/metadata"
)

// keyFunc returns the sort key of an old rid.
type keyFunc func(rid uint32) (uint64, error)

// assign fixes the final rids of a table. Rows are stable-sorted by key when
// key is non-nil, otherwise they keep registration order.
func (s *state) assign(kind metadata.TableKind, key keyFunc) error {
	r := s.reg(kind)
	final := append([]uint32(nil), r.order...)
	if key != nil {
		keys := make(map[uint32]uint64, len(final))
		for _, rid := range final {
			k, err := key(rid)
			if err != nil {
				return err
			}
			keys[rid] = k
		}
		sort.SliceStable(final, func(i, j int) bool {
			return keys[final[i]] < keys[final[j]]
		})
	}
	if len(final) > metadata.MaxRid {
		return errors.Overflow(errors.PhaseBuild, []string{kind.String()}, len(final), 3)
	}
	r.final = final
	for i, rid := range final {
		s.mapping.set(metadata.NewToken(kind, rid), metadata.NewToken(kind, uint32(i+1)))
	}
	return nil
}

// rid returns the final rid of tok, or 0 for a nil token.
func (s *state) rid(tok metadata.Token) (uint32, error) {
	if tok.IsNil() {
		return 0, nil
	}
	t, err := s.mapping.Map(tok)
	if err != nil {
		return 0, err
	}
	return t.Rid(), nil
}

// coded returns the final coded index of tok within group k.
func (s *state) coded(k metadata.CodedIndexKind, tok metadata.Token) (uint32, error) {
	t, err := s.mapping.Map(tok)
	if err != nil {
		return 0, err
	}
	return k.Encode(t)
}

// parentKey orders a child row by the final rid of the row that owns it.
func (s *state) parentKey(kind metadata.TableKind) keyFunc {
	return func(rid uint32) (uint64, error) {
		p, err := s.rid(s.parent[metadata.NewToken(kind, rid)])
		return uint64(p), err
	}
}

// order assigns final rids: parents keep first-seen order, child tables are
// grouped into contiguous runs per parent and keyed tables are sorted.
func (s *state) order() error {
	plain := []metadata.TableKind{
		metadata.TableModule, metadata.TableAssembly, metadata.TableTypeDef, metadata.TableTypeRef,
		metadata.TableAssemblyRef, metadata.TableModuleRef, metadata.TableFile, metadata.TableTypeSpec,
		metadata.TableMemberRef, metadata.TableMethodSpec, metadata.TableStandAloneSig,
		metadata.TableExportedType, metadata.TableManifestResource,
	}
	for _, kind := range plain {
		if err := s.assign(kind, nil); err != nil {
			return err
		}
	}

	for _, kind := range []metadata.TableKind{
		metadata.TableField, metadata.TableMethod, metadata.TableProperty, metadata.TableEvent,
		metadata.TableParam, metadata.TableInterfaceImpl,
	} {
		if err := s.assign(kind, s.parentKey(kind)); err != nil {
			return err
		}
	}

	if err := s.assign(metadata.TableGenericParam, func(rid uint32) (uint64, error) {
		gp := s.mod.GenericParams[rid-1]
		owner, err := s.coded(metadata.CodedTypeOrMethodDef, gp.Owner)
		return uint64(owner)<<16 | uint64(gp.Number), err
	}); err != nil {
		return err
	}

	if err := s.assign(metadata.TableGenericParamConstraint, func(rid uint32) (uint64, error) {
		owner, err := s.rid(s.mod.GenericParamConstraints[rid-1].Owner)
		return uint64(owner), err
	}); err != nil {
		return err
	}

	if err := s.assign(metadata.TableDeclSecurity, func(rid uint32) (uint64, error) {
		p, err := s.coded(metadata.CodedHasDeclSecurity, s.mod.DeclSecurities[rid-1].Parent)
		return uint64(p), err
	}); err != nil {
		return err
	}
	for _, rid := range s.reg(metadata.TableDeclSecurity).final {
		if err := s.internBlobs(s.mod.DeclSecurities[rid-1].PermissionSet); err != nil {
			return err
		}
	}

	if err := s.assign(metadata.TableCustomAttribute, func(rid uint32) (uint64, error) {
		p, err := s.coded(metadata.CodedHasCustomAttribute, s.mod.CustomAttributes[rid-1].Parent)
		return uint64(p), err
	}); err != nil {
		return err
	}
	// Interning in final order keeps a rebuild of the output byte-identical.
	for _, rid := range s.reg(metadata.TableCustomAttribute).final {
		if err := s.internBlobs(s.mod.CustomAttributes[rid-1].Value); err != nil {
			return err
		}
	}
	return nil
}

// listStarts computes the list column value of every parent in final order:
// the first child rid of each run, or the next free rid for an empty run.
func (s *state) listStarts(parentKind, childKind metadata.TableKind) map[uint32]uint32 {
	counts := make(map[metadata.Token]uint32)
	for _, rid := range s.reg(childKind).final {
		counts[s.parent[metadata.NewToken(childKind, rid)]]++
	}
	starts := make(map[uint32]uint32, len(s.reg(parentKind).final))
	next := uint32(1)
	for _, old := range s.reg(parentKind).final {
		starts[old] = next
		next += counts[metadata.NewToken(parentKind, old)]
	}
	return starts
}

// sortRows stable-sorts rows by the given key column.
func sortRows(rows []metadata.Row, column int) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i][column] < rows[j][column]
	})
}
