package metadata

import "fmt"

// TableKind identifies one of the 45 metadata tables.
type TableKind uint8

const (
	TableModule                 TableKind = 0x00
	TableTypeRef                TableKind = 0x01
	TableTypeDef                TableKind = 0x02
	TableFieldPtr               TableKind = 0x03
	TableField                  TableKind = 0x04
	TableMethodPtr              TableKind = 0x05
	TableMethod                 TableKind = 0x06
	TableParamPtr               TableKind = 0x07
	TableParam                  TableKind = 0x08
	TableInterfaceImpl          TableKind = 0x09
	TableMemberRef              TableKind = 0x0A
	TableConstant               TableKind = 0x0B
	TableCustomAttribute        TableKind = 0x0C
	TableFieldMarshal           TableKind = 0x0D
	TableDeclSecurity           TableKind = 0x0E
	TableClassLayout            TableKind = 0x0F
	TableFieldLayout            TableKind = 0x10
	TableStandAloneSig          TableKind = 0x11
	TableEventMap               TableKind = 0x12
	TableEventPtr               TableKind = 0x13
	TableEvent                  TableKind = 0x14
	TablePropertyMap            TableKind = 0x15
	TablePropertyPtr            TableKind = 0x16
	TableProperty               TableKind = 0x17
	TableMethodSemantics        TableKind = 0x18
	TableMethodImpl             TableKind = 0x19
	TableModuleRef              TableKind = 0x1A
	TableTypeSpec               TableKind = 0x1B
	TableImplMap                TableKind = 0x1C
	TableFieldRVA               TableKind = 0x1D
	TableEncLog                 TableKind = 0x1E
	TableEncMap                 TableKind = 0x1F
	TableAssembly               TableKind = 0x20
	TableAssemblyProcessor      TableKind = 0x21
	TableAssemblyOS             TableKind = 0x22
	TableAssemblyRef            TableKind = 0x23
	TableAssemblyRefProcessor   TableKind = 0x24
	TableAssemblyRefOS          TableKind = 0x25
	TableFile                   TableKind = 0x26
	TableExportedType           TableKind = 0x27
	TableManifestResource       TableKind = 0x28
	TableNestedClass            TableKind = 0x29
	TableGenericParam           TableKind = 0x2A
	TableMethodSpec             TableKind = 0x2B
	TableGenericParamConstraint TableKind = 0x2C

	// TableUserString is the token table byte of #US references (ldstr operands).
	// It does not name a table in the tables stream.
	TableUserString TableKind = 0x70

	tableNone TableKind = 0xFF
)

// TableCount is the number of tables in the tables stream.
const TableCount = 45

var tableNames = [TableCount]string{
	"Module", "TypeRef", "TypeDef", "FieldPtr", "Field", "MethodPtr", "MethodDef", "ParamPtr",
	"Param", "InterfaceImpl", "MemberRef", "Constant", "CustomAttribute", "FieldMarshal",
	"DeclSecurity", "ClassLayout", "FieldLayout", "StandAloneSig", "EventMap", "EventPtr", "Event",
	"PropertyMap", "PropertyPtr", "Property", "MethodSemantics", "MethodImpl", "ModuleRef",
	"TypeSpec", "ImplMap", "FieldRVA", "EncLog", "EncMap", "Assembly", "AssemblyProcessor",
	"AssemblyOS", "AssemblyRef", "AssemblyRefProcessor", "AssemblyRefOS", "File", "ExportedType",
	"ManifestResource", "NestedClass", "GenericParam", "MethodSpec", "GenericParamConstraint",
}

// Valid reports whether k names a table of the tables stream.
func (k TableKind) Valid() bool {
	return k < TableCount
}

func (k TableKind) String() string {
	if k.Valid() {
		return tableNames[k]
	}
	if k == TableUserString {
		return "UserString"
	}
	return fmt.Sprintf("Table(0x%02X)", uint8(k))
}

// ParseTableKind returns the table kind with the given ECMA name.
func ParseTableKind(name string) (TableKind, bool) {
	for i, n := range tableNames {
		if n == name {
			return TableKind(i), true
		}
	}
	return 0, false
}

// MaxRid is the largest rid a token can carry.
const MaxRid = 0x00FFFFFF

// Token addresses one metadata row as 0xTTRRRRRR: table kind byte and 24-bit rid.
// A rid of 0 denotes no value.
type Token uint32

// NewToken creates a token for the given table and rid.
func NewToken(kind TableKind, rid uint32) Token {
	return Token(uint32(kind)<<24 | rid&MaxRid)
}

// Table returns the token's table kind.
func (t Token) Table() TableKind {
	return TableKind(t >> 24)
}

// Rid returns the token's 1-based row index.
func (t Token) Rid() uint32 {
	return uint32(t) & MaxRid
}

// IsNil reports whether the token refers to no row.
func (t Token) IsNil() bool {
	return t.Rid() == 0
}

func (t Token) String() string {
	return fmt.Sprintf("0x%08X", uint32(t))
}
