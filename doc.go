// Package clrmeta reads, edits and rebuilds ECMA-335 CLI metadata.
//
// A metadata root holds four heaps (#Strings, #Blob, #GUID and #US) and the
// tables stream (#~ or #-) with its fixed schema of 45 tables. Rows are
// addressed by tokens: a table byte and a 1-based row id.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	clrmeta/             Root package: locate, parse and rebuild an image
//	├── metadata/        Heaps, heap buffers, tokens, coded indices, tables stream, root codec
//	├── signature/       Signature blob decoding and encoding
//	├── model/           Object graph read from a metadata root
//	├── builder/         Two-phase rebuild of an object graph into a new root
//	├── resolver/        Reference resolution across assemblies
//	├── errors/          Structured error types for debugging
//	└── cmd/clrmeta/     Command-line inspector
//
// # Quick Start
//
// Inspect and rebuild a module:
//
//	im, err := clrmeta.Open("app.dll")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	mod, err := im.Module()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, t := range mod.TypeDefs {
//	    fmt.Println(t.Namespace, t.Name)
//	}
//
//	res, err := im.Rebuild(builder.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	data, err := res.Bytes()
//
// The result carries a token mapping from the tokens of the input to the
// tokens of the rebuilt root. Method bodies that embed tokens must be
// patched through it.
//
// # Resolution
//
// A resolver.Resolver maps TypeRef, MemberRef and MethodSpec tokens to the
// definitions they name, loading referenced assemblies through a pluggable
// resolver.AssemblyResolver and keeping them in an LRU cache. Types compare
// by namespace, name and declaring type; the resolution scope takes no part
// in the comparison.
//
// # Thread Safety
//
// Heaps cache decoded values under a lock and may be shared. Tables streams,
// buffers, modules and builders are not safe for concurrent mutation. A
// finalized tables stream is read-only until unlocked.
package clrmeta
