// Package metadata reads and writes ECMA-335 CLI metadata.
//
// A metadata root holds up to five streams: the tables stream (#~ or #-)
// and the #Strings, #Blob, #GUID and #US heaps. Every row of the 45 fixed
// tables is addressed by a Token (table kind plus 1-based rid); references
// that may point into one of several tables are packed as coded indices.
//
// Parsing an existing root:
//
//	md, err := metadata.ParseBytes(data)
//	if err != nil {
//	    return err
//	}
//	row, ok := md.Tables.Resolve(metadata.NewToken(metadata.TableTypeDef, 2))
//	name, err := md.Strings.Get(row[1])
//
// Heaps decode lazily and memoize every value they hand out. Offset 0 of
// every heap is the empty value.
//
// Writing goes through the heap buffers (StringsBuffer, BlobBuffer,
// GUIDBuffer, UserStringsBuffer), which deduplicate by value, and through
// TablesStream, whose column widths are fixed by Finalize once all rows are
// known. A finalized stream rejects mutation with ErrMetadataLocked until
// Unlock is called.
package metadata
