package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseRead    Phase = "read"    // heap and table decoding
	PhaseWrite   Phase = "write"   // heap and table serialization
	PhaseBuild   Phase = "build"   // rebuild pipeline
	PhaseResolve Phase = "resolve" // reference resolution
	PhaseParse   Phase = "parse"   // metadata root and signature parsing
)

// Kind categorizes the error
type Kind string

const (
	KindMalformedHeap         Kind = "malformed_heap"
	KindBadOffset             Kind = "bad_offset"
	KindUnsupportedCodedIndex Kind = "unsupported_coded_index"
	KindMetadataLocked        Kind = "metadata_locked"
	KindResolutionFailure     Kind = "resolution_failure"
	KindInvalidData           Kind = "invalid_data"
	KindOverflow              Kind = "overflow"
	KindNotFound              Kind = "not_found"
	KindUnsupported           Kind = "unsupported"
	KindInvalidInput          Kind = "invalid_input"
)

// Sentinels for errors.Is checks that do not care about the phase.
var (
	ErrMalformedHeap         = &Error{Kind: KindMalformedHeap}
	ErrBadOffset             = &Error{Kind: KindBadOffset}
	ErrUnsupportedCodedIndex = &Error{Kind: KindUnsupportedCodedIndex}
	ErrMetadataLocked        = &Error{Kind: KindMetadataLocked}
	ErrResolutionFailure     = &Error{Kind: KindResolutionFailure}
	ErrInvalidData           = &Error{Kind: KindInvalidData}
	ErrOverflow              = &Error{Kind: KindOverflow}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrUnsupported           = &Error{Kind: KindUnsupported}
	ErrInvalidInput          = &Error{Kind: KindInvalidInput}
)

// Error is the structured error type used throughout the library
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Stream string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if e.Stream != "" {
		b.WriteString(" in ")
		b.WriteString(e.Stream)
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a phase matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the location path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Stream sets the heap or stream name
func (b *Builder) Stream(name string) *Builder {
	b.err.Stream = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// MalformedHeap creates an error for corrupt or truncated heap content
func MalformedHeap(stream string, offset uint32, detail string) *Error {
	return &Error{
		Phase:  PhaseRead,
		Kind:   KindMalformedHeap,
		Stream: stream,
		Detail: fmt.Sprintf("offset 0x%X: %s", offset, detail),
		Value:  offset,
	}
}

// BadOffset creates an error for an offset outside a heap's bounds
func BadOffset(stream string, offset, length uint32) *Error {
	return &Error{
		Phase:  PhaseRead,
		Kind:   KindBadOffset,
		Stream: stream,
		Detail: fmt.Sprintf("offset 0x%X out of bounds (length 0x%X)", offset, length),
		Value:  offset,
	}
}

// UnsupportedCodedIndex creates an error for a table that is not a member of a coded index group
func UnsupportedCodedIndex(phase Phase, group string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupportedCodedIndex,
		Path:   []string{group},
		Detail: detail,
	}
}

// MetadataLocked creates an error for mutating a finalized structure
func MetadataLocked(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindMetadataLocked,
		Detail: fmt.Sprintf("%s is locked; unlock it before modifying", what),
	}
}

// ResolutionFailure creates an error for a reference without a matching definition
func ResolutionFailure(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindResolutionFailure,
		Detail: fmt.Sprintf("%s could not be resolved", what),
		Cause:  cause,
	}
}

// Overflow creates an error for a value that does not fit its serialized width
func Overflow(phase Phase, path []string, value any, width int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Path:   path,
		Detail: fmt.Sprintf("value %v does not fit in %d bytes", value, width),
		Value:  value,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}
