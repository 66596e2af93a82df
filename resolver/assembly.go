package resolver

import (
	"context"
	"os"
	"sync"

	"github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/metadata"
	"github.com/wippyai/clrmeta/model"
)

// AssemblyResolver finds the manifest module of an assembly. Implementations
// return (nil, nil) when they do not know the assembly and an error only
// when looking it up failed.
type AssemblyResolver interface {
	ResolveAssembly(ctx context.Context, desc AssemblyDescriptor) (*model.Module, error)
}

// MapAssemblyResolver serves assemblies from memory.
type MapAssemblyResolver struct {
	cmp     Comparer
	modules map[string][]*model.Module
}

// NewMapAssemblyResolver creates a resolver over the given manifest modules.
// Versions must match unless ignoreVersion is set.
func NewMapAssemblyResolver(ignoreVersion bool, modules ...*model.Module) (*MapAssemblyResolver, error) {
	r := &MapAssemblyResolver{
		cmp:     Comparer{IgnoreVersion: ignoreVersion},
		modules: make(map[string][]*model.Module),
	}
	for _, m := range modules {
		if err := r.Add(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers a manifest module.
func (r *MapAssemblyResolver) Add(mod *model.Module) error {
	if mod == nil || mod.Assembly == nil {
		return errors.InvalidInput(errors.PhaseResolve, "module has no assembly manifest")
	}
	name := mod.Assembly.Name
	r.modules[name] = append(r.modules[name], mod)
	return nil
}

// ResolveAssembly returns the first registered module whose manifest matches.
func (r *MapAssemblyResolver) ResolveAssembly(_ context.Context, desc AssemblyDescriptor) (*model.Module, error) {
	for _, m := range r.modules[desc.Name] {
		if r.cmp.EqualAssemblies(desc, DefDescriptor(m.Assembly)) {
			return m, nil
		}
	}
	return nil, nil
}

// FileAssemblyResolver loads assemblies from metadata files or images on
// disk, keyed by simple assembly name. Loaded modules are kept.
type FileAssemblyResolver struct {
	paths map[string]string

	mu     sync.Mutex
	loaded map[string]*model.Module
}

// NewFileAssemblyResolver maps assembly names to file paths.
func NewFileAssemblyResolver(paths map[string]string) *FileAssemblyResolver {
	r := &FileAssemblyResolver{
		paths:  make(map[string]string, len(paths)),
		loaded: make(map[string]*model.Module),
	}
	for name, path := range paths {
		r.paths[name] = path
	}
	return r
}

// ResolveAssembly loads the file registered for desc.Name. A file whose
// manifest does not match desc is treated as not found.
func (r *FileAssemblyResolver) ResolveAssembly(ctx context.Context, desc AssemblyDescriptor) (*model.Module, error) {
	name := desc.Name
	path, ok := r.paths[name]
	if !ok {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	mod, ok := r.loaded[name]
	if !ok {
		var err error
		if mod, err = LoadFile(path); err != nil {
			return nil, err
		}
		r.loaded[name] = mod
	}
	if mod.Assembly == nil || !(Comparer{IgnoreVersion: true}).EqualAssemblies(desc, DefDescriptor(mod.Assembly)) {
		return nil, nil
	}
	return mod, nil
}

// LoadFile reads the module graph of a file holding a metadata root, either
// bare or embedded in a larger image. Field data cannot be located without
// section headers and is left empty.
func LoadFile(path string) (*model.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseResolve, errors.KindInvalidInput, err, "read "+path)
	}
	root, ok := metadata.ScanRoot(data)
	if !ok {
		return nil, errors.InvalidData(errors.PhaseParse, []string{path}, "no metadata root")
	}
	md, err := metadata.Parse(&metadata.ImageSource{Data: data, Root: root})
	if err != nil {
		return nil, errors.ParseFailed(path, err)
	}
	mod, err := model.Read(md, nil)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseResolve, errors.KindInvalidData, err, "load "+path)
	}
	return mod, nil
}
