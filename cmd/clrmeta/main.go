package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/clrmeta"
	"github.com/wippyai/clrmeta/builder"
	"github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/metadata"
	"github.com/wippyai/clrmeta/model"
	"github.com/wippyai/clrmeta/resolver"
)

func main() {
	var (
		file        = flag.String("file", "", "Metadata file or image containing a metadata root")
		offset      = flag.Int("offset", -1, "Offset of the metadata root (default: scan for BSJB)")
		info        = flag.Bool("info", false, "Print streams, heaps and table counts")
		dump        = flag.String("dump", "", "Dump rows of the named table")
		limit       = flag.Int("limit", -1, "Maximum rows or heap entries to print (0 = all)")
		token       = flag.String("token", "", "Print the row of a token (0x06000001)")
		heap        = flag.String("heap", "", "Enumerate a heap: strings, us, blob or guid")
		roundtrip   = flag.Bool("roundtrip", false, "Re-encode the metadata and compare with the input")
		rebuild     = flag.String("rebuild", "", "Rebuild through the object model and write the result")
		resolve     = flag.String("resolve", "", "Resolve a type, field or method token")
		configFile  = flag.String("config", configPath(), "Config file")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Development logging")
	)
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "Usage: clrmeta -file <path> [-info] [-dump Table] [-token 0x...] [-heap name]")
		fmt.Fprintln(os.Stderr, "       clrmeta -file <path> -roundtrip | -rebuild <out> | -resolve 0x...")
		fmt.Fprintln(os.Stderr, "       clrmeta -file <path> -i  (interactive mode)")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log, err := newLogger(*verbose, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	metadata.SetLogger(log)
	builder.SetLogger(log)

	in, err := load(*file, *offset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *interactive {
		if err := runInteractive(*file, in.Metadata); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	c := &command{in: in, cfg: cfg, log: log, p: newPrinter(), limit: cfg.dumpLimit(*limit)}
	if err := c.run(*info, *dump, *token, *heap, *roundtrip, *rebuild, *resolve); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool, level string) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	if level == "" {
		return zap.NewNop(), nil
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

func load(path string, offset int) (*clrmeta.Image, error) {
	if offset < 0 {
		return clrmeta.Open(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return clrmeta.LoadAt(data, uint32(offset))
}

type command struct {
	in    *clrmeta.Image
	cfg   Config
	log   *zap.Logger
	p     *printer
	limit int
}

func (c *command) run(info bool, dump, token, heap string, roundtrip bool, rebuild, resolve string) error {
	ran := false
	step := func(enabled bool, fn func() error) error {
		if !enabled {
			return nil
		}
		ran = true
		return fn()
	}
	if err := step(info, c.info); err != nil {
		return err
	}
	if err := step(dump != "", func() error { return c.dump(dump) }); err != nil {
		return err
	}
	if err := step(token != "", func() error { return c.token(token) }); err != nil {
		return err
	}
	if err := step(heap != "", func() error { return c.heap(heap) }); err != nil {
		return err
	}
	if err := step(roundtrip, c.roundtrip); err != nil {
		return err
	}
	if err := step(rebuild != "", func() error { return c.rebuild(rebuild) }); err != nil {
		return err
	}
	if err := step(resolve != "", func() error { return c.resolve(resolve) }); err != nil {
		return err
	}
	if !ran {
		return c.info()
	}
	return nil
}

func (c *command) info() error {
	md := c.in.Metadata
	c.p.header("Metadata root")
	c.p.field("Root offset", fmt.Sprintf("0x%X", c.in.Source.Root))
	c.p.field("Version", md.Version)
	c.p.field("Format", fmt.Sprintf("%d.%d", md.MajorVersion, md.MinorVersion))

	fmt.Println()
	c.p.header("Streams")
	for _, h := range md.Headers {
		c.p.field(h.Name, fmt.Sprintf("offset 0x%X, size 0x%X", h.Offset, h.Size))
	}
	c.p.field("#Strings bytes", md.Strings.Len())
	c.p.field("#Blob bytes", md.Blob.Len())
	c.p.field("#GUID entries", md.GUID.Count())
	c.p.field("#US bytes", md.UserStrings.Len())

	fmt.Println()
	c.p.header("Tables")
	c.p.field("Heap flags", fmt.Sprintf("0x%02X", uint8(md.Tables.HeapFlags())))
	for kind := metadata.TableKind(0); kind < metadata.TableCount; kind++ {
		if n := md.Tables.Table(kind).Len(); n > 0 {
			c.p.field(kind.String(), n)
		}
	}
	return nil
}

func (c *command) dump(name string) error {
	kind, ok := metadata.ParseTableKind(name)
	if !ok {
		return errors.NotFound(errors.PhaseParse, "table", name)
	}
	t := c.in.Metadata.Tables.Table(kind)
	layout := t.Layout()
	names := columnNames(layout)

	c.p.header(fmt.Sprintf("%s (%d rows)", kind, t.Len()))
	for i, row := range t.Rows() {
		if c.limit > 0 && i >= c.limit {
			fmt.Println(c.p.render(dimStyle, fmt.Sprintf("  ... %d more", t.Len()-i)))
			break
		}
		fmt.Print(c.p.render(dimStyle, metadata.NewToken(kind, uint32(i+1)).String()))
		for j, v := range rowCells(c.in.Metadata, layout, row) {
			fmt.Printf(" %s=%s", c.p.render(nameStyle, names[j]), c.p.render(valueStyle, v))
		}
		fmt.Println()
	}
	return nil
}

func (c *command) token(s string) error {
	tok, err := parseToken(s)
	if err != nil {
		return err
	}
	if tok.Table() == metadata.TableUserString {
		v, err := c.in.Metadata.UserStrings.Get(tok.Rid())
		if err != nil {
			return err
		}
		c.p.header(tok.String())
		c.p.field("UserString", fmt.Sprintf("%q", v))
		return nil
	}
	row, ok := c.in.Metadata.Tables.Resolve(tok)
	if !ok {
		return errors.NotFound(errors.PhaseRead, "token", tok.String())
	}
	layout := metadata.Layout(tok.Table())
	c.p.header(fmt.Sprintf("%s %s", tok, tok.Table()))
	for i, v := range rowCells(c.in.Metadata, layout, row) {
		c.p.field(layout.Columns[i].Name, v)
	}
	return nil
}

func (c *command) heap(name string) error {
	md := c.in.Metadata
	n := 0
	more := func() bool {
		n++
		return c.limit == 0 || n < c.limit
	}
	c.p.header(name)
	var err error
	switch name {
	case "strings":
		err = md.Strings.Enumerate(func(off uint32, v string) bool {
			fmt.Printf("  0x%06X %q\n", off, v)
			return more()
		})
	case "us":
		err = md.UserStrings.Enumerate(func(off uint32, v string) bool {
			fmt.Printf("  0x%06X %q\n", off, v)
			return more()
		})
	case "blob":
		err = md.Blob.Enumerate(func(off uint32, v []byte) bool {
			fmt.Printf("  0x%06X %s\n", off, truncate(fmt.Sprintf("%X", v)))
			return more()
		})
	case "guid":
		err = md.GUID.Enumerate(func(idx uint32, v uuid.UUID) bool {
			fmt.Printf("  %d %s\n", idx, v)
			return more()
		})
	default:
		return errors.InvalidInput(errors.PhaseRead, "unknown heap "+name)
	}
	return err
}

func (c *command) roundtrip() error {
	out, err := c.in.Metadata.Bytes()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	orig := c.in.RootBytes()
	c.p.header("Round trip")
	c.p.field("Encoded bytes", len(out))
	if len(orig) >= len(out) && bytes.Equal(orig[:len(out)], out) {
		c.p.field("Result", "identical")
		return nil
	}
	diff := 0
	for diff < len(out) && diff < len(orig) && out[diff] == orig[diff] {
		diff++
	}
	c.p.field("Result", fmt.Sprintf("differs at root offset 0x%X", diff))
	return nil
}

func (c *command) rebuild(out string) error {
	bcfg := builder.DefaultConfig()
	bcfg.Logger = c.log
	res, err := c.in.Rebuild(bcfg)
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	data, err := res.Bytes()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	moved := 0
	res.Tokens.Range(func(old, new metadata.Token) bool {
		if old != new {
			moved++
		}
		return true
	})
	c.p.header("Rebuild")
	c.p.field("Output", out)
	c.p.field("Bytes", len(data))
	c.p.field("Tokens", res.Tokens.Len())
	c.p.field("Moved", moved)
	return nil
}

func (c *command) resolve(s string) error {
	tok, err := parseToken(s)
	if err != nil {
		return err
	}
	mod, err := c.in.Module()
	if err != nil {
		return err
	}
	r, err := resolver.New(resolver.Config{
		Assemblies:      resolver.NewFileAssemblyResolver(c.cfg.Assemblies),
		ThrowOnNotFound: c.cfg.ThrowOnNotFound,
		IgnoreVersion:   c.cfg.IgnoreVersion,
		Logger:          c.log,
	})
	if err != nil {
		return err
	}
	ctx := context.Background()

	var (
		where  *model.Module
		target metadata.Token
		name   string
	)
	switch tok.Table() {
	case metadata.TableTypeDef, metadata.TableTypeRef, metadata.TableTypeSpec:
		t, err := r.ResolveType(ctx, mod, tok)
		if err != nil {
			return err
		}
		if t != nil {
			where, target, name = t.Module, t.Token, t.Def.Namespace+"."+t.Def.Name
		}
	case metadata.TableField:
		f, err := r.ResolveField(ctx, mod, tok)
		if err != nil {
			return err
		}
		if f != nil {
			where, target, name = f.Module, f.Token, f.Def.Name
		}
	case metadata.TableMemberRef:
		ref, ok := mod.MemberRef(tok)
		if ok && ref.IsField() {
			f, err := r.ResolveField(ctx, mod, tok)
			if err != nil {
				return err
			}
			if f != nil {
				where, target, name = f.Module, f.Token, f.Def.Name
			}
			break
		}
		fallthrough
	default:
		m, err := r.ResolveMethod(ctx, mod, tok)
		if err != nil {
			return err
		}
		if m != nil {
			where, target, name = m.Module, m.Token, m.Def.Name
		}
	}

	c.p.header("Resolve " + tok.String())
	if where == nil {
		c.p.field("Result", "not found")
		return nil
	}
	c.p.field("Module", where.Name)
	if where.Assembly != nil {
		c.p.field("Assembly", resolver.DefDescriptor(where.Assembly).String())
	}
	c.p.field("Token", target)
	c.p.field("Name", name)
	return nil
}
