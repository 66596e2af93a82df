package metadata

// ColumnType is the storage class of a table column.
type ColumnType uint8

const (
	ColumnU16 ColumnType = iota
	ColumnU32
	ColumnString
	ColumnGUID
	ColumnBlob
	ColumnTable
	ColumnCoded
)

// Column describes one column of a table row.
type Column struct {
	Name  string
	Type  ColumnType
	Table TableKind      // target of ColumnTable
	Coded CodedIndexKind // group of ColumnCoded
}

// TableLayout is the row shape of one table kind.
type TableLayout struct {
	Kind    TableKind
	Columns []Column

	// Key is the primary key column of a sorted table, or -1.
	Key int
}

// ColumnIndex returns the position of the named column, or -1.
func (l *TableLayout) ColumnIndex(name string) int {
	for i, c := range l.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Sorted reports whether rows of this table are ordered by a key column.
func (l *TableLayout) Sorted() bool {
	return l.Key >= 0
}

// RowSize returns the encoded size of one row under sizes.
func (l *TableLayout) RowSize(sizes *IndexSizes) int {
	n := 0
	for _, c := range l.Columns {
		n += sizes.ColumnSize(c)
	}
	return n
}

func u16(name string) Column  { return Column{Name: name, Type: ColumnU16} }
func u32(name string) Column  { return Column{Name: name, Type: ColumnU32} }
func str(name string) Column  { return Column{Name: name, Type: ColumnString} }
func guid(name string) Column { return Column{Name: name, Type: ColumnGUID} }
func blob(name string) Column { return Column{Name: name, Type: ColumnBlob} }

func tbl(name string, t TableKind) Column {
	return Column{Name: name, Type: ColumnTable, Table: t}
}

func coded(name string, k CodedIndexKind) Column {
	return Column{Name: name, Type: ColumnCoded, Coded: k}
}

func layout(kind TableKind, key int, cols ...Column) *TableLayout {
	return &TableLayout{Kind: kind, Columns: cols, Key: key}
}

var layouts = [TableCount]*TableLayout{
	layout(TableModule, -1, u16("Generation"), str("Name"), guid("Mvid"), guid("EncId"), guid("EncBaseId")),
	layout(TableTypeRef, -1, coded("ResolutionScope", CodedResolutionScope), str("TypeName"), str("TypeNamespace")),
	layout(TableTypeDef, -1, u32("Flags"), str("TypeName"), str("TypeNamespace"),
		coded("Extends", CodedTypeDefOrRef), tbl("FieldList", TableField), tbl("MethodList", TableMethod)),
	layout(TableFieldPtr, -1, tbl("Field", TableField)),
	layout(TableField, -1, u16("Flags"), str("Name"), blob("Signature")),
	layout(TableMethodPtr, -1, tbl("Method", TableMethod)),
	layout(TableMethod, -1, u32("RVA"), u16("ImplFlags"), u16("Flags"), str("Name"), blob("Signature"),
		tbl("ParamList", TableParam)),
	layout(TableParamPtr, -1, tbl("Param", TableParam)),
	layout(TableParam, -1, u16("Flags"), u16("Sequence"), str("Name")),
	layout(TableInterfaceImpl, 0, tbl("Class", TableTypeDef), coded("Interface", CodedTypeDefOrRef)),
	layout(TableMemberRef, -1, coded("Class", CodedMemberRefParent), str("Name"), blob("Signature")),
	// Type is one byte followed by one padding byte.
	layout(TableConstant, 1, u16("Type"), coded("Parent", CodedHasConstant), blob("Value")),
	layout(TableCustomAttribute, 0, coded("Parent", CodedHasCustomAttribute),
		coded("Type", CodedCustomAttributeType), blob("Value")),
	layout(TableFieldMarshal, 0, coded("Parent", CodedHasFieldMarshal), blob("NativeType")),
	layout(TableDeclSecurity, 1, u16("Action"), coded("Parent", CodedHasDeclSecurity), blob("PermissionSet")),
	layout(TableClassLayout, 2, u16("PackingSize"), u32("ClassSize"), tbl("Parent", TableTypeDef)),
	layout(TableFieldLayout, 1, u32("Offset"), tbl("Field", TableField)),
	layout(TableStandAloneSig, -1, blob("Signature")),
	layout(TableEventMap, -1, tbl("Parent", TableTypeDef), tbl("EventList", TableEvent)),
	layout(TableEventPtr, -1, tbl("Event", TableEvent)),
	layout(TableEvent, -1, u16("EventFlags"), str("Name"), coded("EventType", CodedTypeDefOrRef)),
	layout(TablePropertyMap, -1, tbl("Parent", TableTypeDef), tbl("PropertyList", TableProperty)),
	layout(TablePropertyPtr, -1, tbl("Property", TableProperty)),
	layout(TableProperty, -1, u16("Flags"), str("Name"), blob("Type")),
	layout(TableMethodSemantics, 2, u16("Semantics"), tbl("Method", TableMethod),
		coded("Association", CodedHasSemantics)),
	layout(TableMethodImpl, 0, tbl("Class", TableTypeDef), coded("MethodBody", CodedMethodDefOrRef),
		coded("MethodDeclaration", CodedMethodDefOrRef)),
	layout(TableModuleRef, -1, str("Name")),
	layout(TableTypeSpec, -1, blob("Signature")),
	layout(TableImplMap, 1, u16("MappingFlags"), coded("MemberForwarded", CodedMemberForwarded),
		str("ImportName"), tbl("ImportScope", TableModuleRef)),
	layout(TableFieldRVA, 1, u32("RVA"), tbl("Field", TableField)),
	layout(TableEncLog, -1, u32("Token"), u32("FuncCode")),
	layout(TableEncMap, -1, u32("Token")),
	layout(TableAssembly, -1, u32("HashAlgId"), u16("MajorVersion"), u16("MinorVersion"), u16("BuildNumber"),
		u16("RevisionNumber"), u32("Flags"), blob("PublicKey"), str("Name"), str("Culture")),
	layout(TableAssemblyProcessor, -1, u32("Processor")),
	layout(TableAssemblyOS, -1, u32("OSPlatformId"), u32("OSMajorVersion"), u32("OSMinorVersion")),
	layout(TableAssemblyRef, -1, u16("MajorVersion"), u16("MinorVersion"), u16("BuildNumber"),
		u16("RevisionNumber"), u32("Flags"), blob("PublicKeyOrToken"), str("Name"), str("Culture"),
		blob("HashValue")),
	layout(TableAssemblyRefProcessor, -1, u32("Processor"), tbl("AssemblyRef", TableAssemblyRef)),
	layout(TableAssemblyRefOS, -1, u32("OSPlatformId"), u32("OSMajorVersion"), u32("OSMinorVersion"),
		tbl("AssemblyRef", TableAssemblyRef)),
	layout(TableFile, -1, u32("Flags"), str("Name"), blob("HashValue")),
	layout(TableExportedType, -1, u32("Flags"), u32("TypeDefId"), str("TypeName"), str("TypeNamespace"),
		coded("Implementation", CodedImplementation)),
	layout(TableManifestResource, -1, u32("Offset"), u32("Flags"), str("Name"),
		coded("Implementation", CodedImplementation)),
	layout(TableNestedClass, 0, tbl("NestedClass", TableTypeDef), tbl("EnclosingClass", TableTypeDef)),
	layout(TableGenericParam, 2, u16("Number"), u16("Flags"), coded("Owner", CodedTypeOrMethodDef), str("Name")),
	layout(TableMethodSpec, -1, coded("Method", CodedMethodDefOrRef), blob("Instantiation")),
	layout(TableGenericParamConstraint, 0, tbl("Owner", TableGenericParam), coded("Constraint", CodedTypeDefOrRef)),
}

// Layout returns the row shape of a table kind.
func Layout(kind TableKind) *TableLayout {
	return layouts[kind]
}

// SortedMask returns the sorted bitmap implied by the table layouts.
func SortedMask() uint64 {
	var mask uint64
	for _, l := range layouts {
		if l.Sorted() {
			mask |= 1 << l.Kind
		}
	}
	return mask
}

// HeapFlags is the heap-size byte of the tables stream header.
type HeapFlags uint8

const (
	HeapStringsWide HeapFlags = 0x01
	HeapGUIDWide    HeapFlags = 0x02
	HeapBlobWide    HeapFlags = 0x04
	HeapExtraData   HeapFlags = 0x40
)

// HeapFlagsFor returns the flags a writer sets for heaps of the given byte lengths.
func HeapFlagsFor(strings, guid, blob int) HeapFlags {
	var f HeapFlags
	if strings > 0xFFFF {
		f |= HeapStringsWide
	}
	if guid > 0xFFFF {
		f |= HeapGUIDWide
	}
	if blob > 0xFFFF {
		f |= HeapBlobWide
	}
	return f
}

// IndexSizes fixes the byte width of every index column of a tables stream.
type IndexSizes struct {
	rows  [TableCount]uint32
	heaps HeapFlags
}

// NewIndexSizes computes widths from row counts and heap flags.
func NewIndexSizes(rows [TableCount]uint32, heaps HeapFlags) IndexSizes {
	return IndexSizes{rows: rows, heaps: heaps}
}

// StringIndex returns the width of a #Strings offset.
func (s *IndexSizes) StringIndex() int {
	return s.heapWidth(HeapStringsWide)
}

// GUIDIndex returns the width of a #GUID index.
func (s *IndexSizes) GUIDIndex() int {
	return s.heapWidth(HeapGUIDWide)
}

// BlobIndex returns the width of a #Blob offset.
func (s *IndexSizes) BlobIndex() int {
	return s.heapWidth(HeapBlobWide)
}

func (s *IndexSizes) heapWidth(flag HeapFlags) int {
	if s.heaps&flag != 0 {
		return 4
	}
	return 2
}

// TableIndex returns the width of a simple index into kind.
func (s *IndexSizes) TableIndex(kind TableKind) int {
	if s.rows[kind] > 0xFFFF {
		return 4
	}
	return 2
}

// CodedIndex returns the width of a coded index of group k.
func (s *IndexSizes) CodedIndex(k CodedIndexKind) int {
	var maxRows uint32
	for _, t := range k.Tables() {
		if t.Valid() && s.rows[t] > maxRows {
			maxRows = s.rows[t]
		}
	}
	if maxRows < 1<<(16-k.TagBits()) {
		return 2
	}
	return 4
}

// ColumnSize returns the width of column c.
func (s *IndexSizes) ColumnSize(c Column) int {
	switch c.Type {
	case ColumnU16:
		return 2
	case ColumnU32:
		return 4
	case ColumnString:
		return s.StringIndex()
	case ColumnGUID:
		return s.GUIDIndex()
	case ColumnBlob:
		return s.BlobIndex()
	case ColumnTable:
		return s.TableIndex(c.Table)
	default:
		return s.CodedIndex(c.Coded)
	}
}
