// Package errors provides structured error types for the clrmeta library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the stream name, a column or table path and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRead, errors.KindMalformedHeap).
//		Stream("#Blob").
//		Value(uint32(0x1F)).
//		Detail("length prefix runs past the heap").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.BadOffset("#Strings", 0x400, 0x200)
//	err := errors.Overflow(errors.PhaseWrite, []string{"TypeDef", "Name", "3"}, 0x10000, 2)
//
// Sentinels such as ErrMalformedHeap match any phase, so callers can test
// categories with errors.Is regardless of where the failure surfaced.
package errors
