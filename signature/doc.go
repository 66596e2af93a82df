// Package signature decodes and encodes the blob signatures of CLI metadata:
// field, method, property, local variable, method spec and type spec blobs.
//
// Type references inside a blob are TypeDefOrRef coded tokens. Encode takes a
// TokenMapper so a rebuild can renumber them without re-parsing:
//
//	sig, err := signature.DecodeMethod(blob)
//	if err != nil {
//		return err
//	}
//	out, err := signature.Encode(sig, mapping.Map)
//
// Blobs that do not decode are kept as Raw and written back verbatim.
package signature
