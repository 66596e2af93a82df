package builder

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/metadata"
	"github.com/wippyai/clrmeta/model"
)

// Config configures a rebuild.
type Config struct {
	// RVAMapper assigns final RVAs to method bodies and field data. It
	// receives the pre-rebuild token and RVA. Nil keeps RVAs unchanged.
	RVAMapper func(token metadata.Token, rva uint32) uint32

	// Logger overrides the package logger for this builder.
	Logger *zap.Logger

	// MetadataVersion overrides the runtime version string of the root.
	MetadataVersion string

	// PreserveUserStrings imports the module's original #US heap so
	// user-string offsets in method bodies stay valid.
	PreserveUserStrings bool
}

// DefaultConfig returns the default rebuild configuration.
func DefaultConfig() Config {
	return Config{PreserveUserStrings: true}
}

// Result is the output of a rebuild.
type Result struct {
	Metadata *metadata.Metadata
	Tokens   *TokenMapping
}

// Bytes serializes the rebuilt metadata root.
func (r *Result) Bytes() ([]byte, error) {
	return r.Metadata.Bytes()
}

// Builder turns a module graph into a new metadata root. A builder is
// locked after a successful build until Unlock is called.
type Builder struct {
	cfg    Config
	locked bool
}

// New creates a builder with the given configuration.
func New(cfg Config) *Builder {
	return &Builder{cfg: cfg}
}

// NewWithDefaults creates a builder with DefaultConfig.
func NewWithDefaults() *Builder {
	return New(DefaultConfig())
}

// Locked reports whether the builder refuses further builds.
func (b *Builder) Locked() bool {
	return b.locked
}

// Unlock allows the builder to run again.
func (b *Builder) Unlock() {
	b.locked = false
}

func (b *Builder) logger() *zap.Logger {
	if b.cfg.Logger != nil {
		return b.cfg.Logger
	}
	return Logger()
}

// Build rebuilds mod in three steps: collection registers every reachable
// row in first-seen order and interns its heap values, ordering groups
// child rows under their parents and sorts keyed tables, emission writes
// rows with final tokens into a finalized tables stream.
func (b *Builder) Build(mod *model.Module) (*Result, error) {
	if b.locked {
		return nil, errors.MetadataLocked(errors.PhaseBuild, "builder")
	}
	if mod == nil {
		return nil, errors.InvalidInput(errors.PhaseBuild, "nil module")
	}

	log := b.logger()
	st := newState(b.cfg, mod)

	start := time.Now()
	if err := st.collect(); err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}
	collected := time.Since(start)

	if err := st.order(); err != nil {
		return nil, fmt.Errorf("order: %w", err)
	}
	ordered := time.Since(start)

	md, err := st.emit()
	if err != nil {
		return nil, fmt.Errorf("emit: %w", err)
	}

	log.Debug("metadata rebuilt",
		zap.String("module", mod.Name),
		zap.Int("tokens", st.mapping.Len()),
		zap.Int("strings_bytes", st.strings.Len()),
		zap.Int("blob_bytes", st.blobs.Len()),
		zap.Duration("collect", collected),
		zap.Duration("order", ordered-collected),
		zap.Duration("total", time.Since(start)))

	b.locked = true
	return &Result{Metadata: md, Tokens: st.mapping}, nil
}
