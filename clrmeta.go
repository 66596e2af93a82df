package clrmeta

import (
	"os"

	"github.com/wippyai/clrmeta/builder"
	"github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/metadata"
	"github.com/wippyai/clrmeta/model"
)

// Image is a metadata root located inside a byte buffer. The object graph is
// read on first use so that tables of a module the model rejects can still
// be inspected.
type Image struct {
	Source   *metadata.ImageSource
	Metadata *metadata.Metadata

	module *model.Module
}

// Open reads path and locates its metadata root by signature.
func Open(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidInput, err, "read "+path)
	}
	return Load(data)
}

// Load locates the metadata root in data by scanning for its signature.
func Load(data []byte) (*Image, error) {
	root, ok := metadata.ScanRoot(data)
	if !ok {
		return nil, errors.InvalidData(errors.PhaseParse, nil, "no metadata root")
	}
	return LoadAt(data, root)
}

// LoadAt parses the metadata root at offset root of data.
func LoadAt(data []byte, root uint32) (*Image, error) {
	src := &metadata.ImageSource{Data: data, Root: root}
	md, err := metadata.Parse(src)
	if err != nil {
		return nil, errors.ParseFailed("metadata root", err)
	}
	return &Image{Source: src, Metadata: md}, nil
}

// Module returns the object graph of the image.
func (im *Image) Module() (*model.Module, error) {
	if im.module != nil {
		return im.module, nil
	}
	mod, err := model.Read(im.Metadata, im.Source)
	if err != nil {
		return nil, err
	}
	im.module = mod
	return mod, nil
}

// Rebuild reads the object graph and builds a fresh metadata root from it.
func (im *Image) Rebuild(cfg builder.Config) (*builder.Result, error) {
	mod, err := im.Module()
	if err != nil {
		return nil, err
	}
	return builder.New(cfg).Build(mod)
}

// RootBytes returns the input from the metadata root to the end of the data.
func (im *Image) RootBytes() []byte {
	return im.Source.Data[im.Source.Root:]
}
