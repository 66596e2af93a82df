package metadata

import (
	"fmt"
	"math/bits"

	"github.com/wippyai/clrmeta/errors"
)

// CodedIndexKind is a reference group whose members may point into one of
// several candidate tables.
type CodedIndexKind uint8

const (
	CodedTypeDefOrRef CodedIndexKind = iota
	CodedHasConstant
	CodedHasCustomAttribute
	CodedHasFieldMarshal
	CodedHasDeclSecurity
	CodedMemberRefParent
	CodedHasSemantics
	CodedMethodDefOrRef
	CodedMemberForwarded
	CodedImplementation
	CodedCustomAttributeType
	CodedResolutionScope
	CodedTypeOrMethodDef

	codedIndexCount
)

type codedIndexInfo struct {
	name   string
	tables []TableKind
	bits   uint
}

var codedIndices = [codedIndexCount]codedIndexInfo{
	CodedTypeDefOrRef: {name: "TypeDefOrRef", tables: []TableKind{TableTypeDef, TableTypeRef, TableTypeSpec}},
	CodedHasConstant:  {name: "HasConstant", tables: []TableKind{TableField, TableParam, TableProperty}},

	CodedHasCustomAttribute: {name: "HasCustomAttribute", tables: []TableKind{
		TableMethod, TableField, TableTypeRef, TableTypeDef, TableParam, TableInterfaceImpl,
		TableMemberRef, TableModule, TableDeclSecurity, TableProperty, TableEvent, TableStandAloneSig,
		TableModuleRef, TableTypeSpec, TableAssembly, TableAssemblyRef, TableFile, TableExportedType,
		TableManifestResource, TableGenericParam, TableGenericParamConstraint, TableMethodSpec,
	}},

	CodedHasFieldMarshal: {name: "HasFieldMarshal", tables: []TableKind{TableField, TableParam}},
	CodedHasDeclSecurity: {name: "HasDeclSecurity", tables: []TableKind{TableTypeDef, TableMethod, TableAssembly}},

	CodedMemberRefParent: {name: "MemberRefParent", tables: []TableKind{
		TableTypeDef, TableTypeRef, TableModuleRef, TableMethod, TableTypeSpec,
	}},

	CodedHasSemantics:    {name: "HasSemantics", tables: []TableKind{TableEvent, TableProperty}},
	CodedMethodDefOrRef:  {name: "MethodDefOrRef", tables: []TableKind{TableMethod, TableMemberRef}},
	CodedMemberForwarded: {name: "MemberForwarded", tables: []TableKind{TableField, TableMethod}},
	CodedImplementation:  {name: "Implementation", tables: []TableKind{TableFile, TableAssemblyRef, TableExportedType}},

	CodedCustomAttributeType: {name: "CustomAttributeType", tables: []TableKind{
		tableNone, tableNone, TableMethod, TableMemberRef, tableNone,
	}},

	CodedResolutionScope: {name: "ResolutionScope", tables: []TableKind{
		TableModule, TableModuleRef, TableAssemblyRef, TableTypeRef,
	}},

	CodedTypeOrMethodDef: {name: "TypeOrMethodDef", tables: []TableKind{TableTypeDef, TableMethod}},
}

func init() {
	for i := range codedIndices {
		codedIndices[i].bits = uint(bits.Len(uint(len(codedIndices[i].tables) - 1)))
	}
}

func (k CodedIndexKind) String() string {
	if k < codedIndexCount {
		return codedIndices[k].name
	}
	return fmt.Sprintf("CodedIndex(%d)", uint8(k))
}

// TagBits returns the number of low bits holding the table tag.
func (k CodedIndexKind) TagBits() uint {
	return codedIndices[k].bits
}

// Tables returns the candidate tables in tag order. Reserved slots are
// reported as an invalid table kind.
func (k CodedIndexKind) Tables() []TableKind {
	return codedIndices[k].tables
}

// Tag returns the tag of table within the group.
func (k CodedIndexKind) Tag(table TableKind) (uint32, bool) {
	for i, t := range codedIndices[k].tables {
		if t == table && t != tableNone {
			return uint32(i), true
		}
	}
	return 0, false
}

// Encode packs token as (rid << tagBits) | tag. A nil token of any table
// encodes to 0.
func (k CodedIndexKind) Encode(token Token) (uint32, error) {
	if token.IsNil() {
		return 0, nil
	}
	tag, ok := k.Tag(token.Table())
	if !ok {
		return 0, errors.UnsupportedCodedIndex(errors.PhaseWrite, k.String(),
			fmt.Sprintf("table %s is not a member", token.Table()))
	}
	info := &codedIndices[k]
	if uint64(token.Rid()) >= 1<<(32-info.bits) {
		return 0, errors.UnsupportedCodedIndex(errors.PhaseWrite, k.String(),
			fmt.Sprintf("rid %d does not fit", token.Rid()))
	}
	return token.Rid()<<info.bits | tag, nil
}

// Decode unpacks a raw coded index. A null reference decodes to the zero token.
func (k CodedIndexKind) Decode(raw uint32) (Token, error) {
	info := &codedIndices[k]
	tag := raw & (1<<info.bits - 1)
	rid := raw >> info.bits
	if rid == 0 {
		return 0, nil
	}
	if int(tag) >= len(info.tables) || info.tables[tag] == tableNone {
		return 0, errors.UnsupportedCodedIndex(errors.PhaseRead, k.String(),
			fmt.Sprintf("reserved tag %d", tag))
	}
	if rid > MaxRid {
		return 0, errors.UnsupportedCodedIndex(errors.PhaseRead, k.String(),
			fmt.Sprintf("rid %d exceeds token range", rid))
	}
	return NewToken(info.tables[tag], rid), nil
}
