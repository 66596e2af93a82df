package signature

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	clrerrors "github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/metadata"
)

func TestDecodeEncodeVectors(t *testing.T) {
	tests := []struct {
		name   string
		blob   []byte
		decode func([]byte) (Signature, error)
		format string
	}{
		{"field int32", []byte{0x06, 0x08}, asSig(DecodeField), "int"},
		{"field modreq", []byte{0x06, 0x1F, 0x0D, 0x08}, asSig(DecodeField), "int modreq(0x01000003)"},
		{"field fnptr", []byte{0x06, 0x1B, 0x00, 0x00, 0x01}, asSig(DecodeField), "method void *()"},
		{"static main", []byte{0x00, 0x01, 0x01, 0x1D, 0x0E}, asSig(DecodeMethod), ""},
		{"generic instance method", []byte{0x30, 0x01, 0x02, 0x1E, 0x00, 0x13, 0x00, 0x12, 0x05}, asSig(DecodeMethod), ""},
		{"vararg", []byte{0x05, 0x02, 0x01, 0x08, 0x41, 0x0E}, asSig(DecodeMethod), ""},
		{"property", []byte{0x28, 0x00, 0x08}, asSig(DecodeProperty), ""},
		{"indexer", []byte{0x28, 0x01, 0x0E, 0x08}, asSig(DecodeProperty), ""},
		{"locals", []byte{0x07, 0x02, 0x45, 0x0F, 0x08, 0x1C}, asSig(DecodeLocalVar), ""},
		{"method spec", []byte{0x0A, 0x01, 0x0E}, asSig(DecodeMethodSpec), ""},
		{"generic inst", []byte{0x15, 0x12, 0x09, 0x01, 0x08}, asSig(DecodeTypeSpec), "0x01000002<int>"},
		{"valuetype inst", []byte{0x15, 0x11, 0x08, 0x02, 0x08, 0x0E}, asSig(DecodeTypeSpec), "0x02000002<int, string>"},
		{"array", []byte{0x14, 0x08, 0x02, 0x01, 0x03, 0x01, 0x7F}, asSig(DecodeTypeSpec), "int[,]"},
		{"szarray of var", []byte{0x1D, 0x13, 0x00}, asSig(DecodeTypeSpec), "!0[]"},
		{"byref ptr", []byte{0x10, 0x0F, 0x05}, asSig(DecodeTypeSpec), "byte*&"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := tt.decode(tt.blob)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			got, err := Encode(sig, nil)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if !bytes.Equal(got, tt.blob) {
				t.Errorf("Encode: got %X, want %X", got, tt.blob)
			}
			if tt.format == "" {
				return
			}
			var typ TypeSig
			switch s := sig.(type) {
			case *FieldSig:
				typ = s.Type
			case *TypeSpecSig:
				typ = s.Type
			}
			if f := Format(typ); f != tt.format {
				t.Errorf("Format: got %q, want %q", f, tt.format)
			}
		})
	}
}

func asSig[T Signature](fn func([]byte) (T, error)) func([]byte) (Signature, error) {
	return func(b []byte) (Signature, error) {
		v, err := fn(b)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

func TestDecodeMethodShape(t *testing.T) {
	m, err := DecodeMethod([]byte{0x30, 0x01, 0x02, 0x1E, 0x00, 0x13, 0x00, 0x12, 0x05})
	if err != nil {
		t.Fatal(err)
	}
	if !m.HasThis() || !m.Generic() {
		t.Errorf("flags: hasThis %v generic %v", m.HasThis(), m.Generic())
	}
	if m.GenericParams != 1 || len(m.Params) != 2 {
		t.Errorf("shape: got %d generic params, %d params", m.GenericParams, len(m.Params))
	}
	if gp, ok := m.Return.(*GenericParam); !ok || !gp.Method || gp.Index != 0 {
		t.Errorf("return: got %#v", m.Return)
	}
	ref, ok := m.Params[1].(*TypeDefOrRef)
	if !ok || ref.Token != metadata.NewToken(metadata.TableTypeRef, 1) || ref.IsValueType {
		t.Errorf("param 1: got %#v", m.Params[1])
	}
	if m.Sentinel != -1 {
		t.Errorf("Sentinel: got %d, want -1", m.Sentinel)
	}

	v, err := DecodeMethod([]byte{0x05, 0x02, 0x01, 0x08, 0x41, 0x0E})
	if err != nil {
		t.Fatal(err)
	}
	if v.Sentinel != 1 || len(v.Params) != 2 {
		t.Errorf("vararg: sentinel %d, %d params", v.Sentinel, len(v.Params))
	}
}

func TestEncodeRemapsTokens(t *testing.T) {
	sig, err := DecodeMethod([]byte{0x20, 0x02, 0x12, 0x05, 0x11, 0x08, 0x15, 0x12, 0x05, 0x01, 0x12, 0x08})
	if err != nil {
		t.Fatal(err)
	}
	want := []metadata.Token{
		metadata.NewToken(metadata.TableTypeRef, 1),
		metadata.NewToken(metadata.TableTypeDef, 2),
		metadata.NewToken(metadata.TableTypeRef, 1),
		metadata.NewToken(metadata.TableTypeDef, 2),
	}
	got := Tokens(sig)
	if len(got) != len(want) {
		t.Fatalf("Tokens: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Tokens[%d]: got %v, want %v", i, got[i], want[i])
		}
	}

	remap := map[metadata.Token]metadata.Token{
		metadata.NewToken(metadata.TableTypeRef, 1): metadata.NewToken(metadata.TableTypeRef, 7),
		metadata.NewToken(metadata.TableTypeDef, 2): metadata.NewToken(metadata.TableTypeSpec, 1),
	}
	out, err := Encode(sig, func(t metadata.Token) (metadata.Token, error) { return remap[t], nil })
	if err != nil {
		t.Fatal(err)
	}
	// TypeRef 7 -> 0x1D, TypeSpec 1 -> 0x06.
	wantBytes := []byte{0x20, 0x02, 0x12, 0x1D, 0x11, 0x06, 0x15, 0x12, 0x1D, 0x01, 0x12, 0x06}
	if !bytes.Equal(out, wantBytes) {
		t.Errorf("remapped: got %X, want %X", out, wantBytes)
	}

	failing := func(metadata.Token) (metadata.Token, error) { return 0, clrerrors.ErrResolutionFailure }
	if _, err := Encode(sig, failing); !errors.Is(err, clrerrors.ErrResolutionFailure) {
		t.Errorf("mapper error: got %v", err)
	}

	bad := func(metadata.Token) (metadata.Token, error) {
		return metadata.NewToken(metadata.TableField, 1), nil
	}
	if _, err := Encode(sig, bad); !errors.Is(err, clrerrors.ErrUnsupportedCodedIndex) {
		t.Errorf("non TypeDefOrRef token: got %v, want ErrUnsupportedCodedIndex", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	deep := append(bytes.Repeat([]byte{0x1D}, maxDepth+1), 0x08)
	tests := []struct {
		name string
		blob []byte
		fn   func([]byte) (Signature, error)
	}{
		{"empty", nil, Decode},
		{"trailing bytes", []byte{0x06, 0x08, 0x08}, asSig(DecodeField)},
		{"truncated", []byte{0x00, 0x02, 0x01, 0x08}, asSig(DecodeMethod)},
		{"unknown element", []byte{0x06, 0x17}, asSig(DecodeField)},
		{"null class token", []byte{0x06, 0x12, 0x00}, asSig(DecodeField)},
		{"field as method", []byte{0x06, 0x08}, asSig(DecodeMethod)},
		{"wrong header", []byte{0x00, 0x08}, asSig(DecodeField)},
		{"rank zero", []byte{0x14, 0x08, 0x00, 0x00, 0x00}, asSig(DecodeTypeSpec)},
		{"too many sizes", []byte{0x14, 0x08, 0x01, 0x02, 0x01, 0x01, 0x00}, asSig(DecodeTypeSpec)},
		{"empty generic inst", []byte{0x15, 0x12, 0x05, 0x00}, asSig(DecodeTypeSpec)},
		{"count past blob", []byte{0x07, 0x7F, 0x08}, asSig(DecodeLocalVar)},
		{"nesting", deep, asSig(DecodeTypeSpec)},
	}
	for _, tt := range tests {
		if _, err := tt.fn(tt.blob); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestDecodeDispatch(t *testing.T) {
	tests := []struct {
		blob []byte
		want string
	}{
		{[]byte{0x06, 0x08}, "*signature.FieldSig"},
		{[]byte{0x07, 0x00}, "*signature.LocalVarSig"},
		{[]byte{0x28, 0x00, 0x08}, "*signature.PropertySig"},
		{[]byte{0x0A, 0x01, 0x08}, "*signature.MethodSpecSig"},
		{[]byte{0x00, 0x00, 0x01}, "*signature.MethodSig"},
	}
	for _, tt := range tests {
		sig, err := Decode(tt.blob)
		if err != nil {
			t.Errorf("Decode(%X): %v", tt.blob, err)
			continue
		}
		if got := fmt.Sprintf("%T", sig); got != tt.want {
			t.Errorf("Decode(%X): got %s, want %s", tt.blob, got, tt.want)
		}
	}
}

func TestRawFallback(t *testing.T) {
	blob := []byte{0x06, 0x99, 0x01}
	sig := DecodeOrRaw(blob)
	raw, ok := sig.(*Raw)
	if !ok {
		t.Fatalf("DecodeOrRaw: got %T, want *Raw", sig)
	}
	blob[0] = 0xFF
	if raw.Data[0] != 0x06 {
		t.Error("Raw should own a copy of the blob")
	}
	out, err := Encode(raw, func(metadata.Token) (metadata.Token, error) {
		t.Error("raw blobs carry no tokens")
		return 0, nil
	})
	if err != nil || !bytes.Equal(out, []byte{0x06, 0x99, 0x01}) {
		t.Errorf("Encode(Raw): got %X, %v", out, err)
	}

	if _, ok := TypeSpecOrRaw([]byte{0x1D, 0x08}).(*TypeSpecSig); !ok {
		t.Error("valid type spec should decode")
	}
}

func TestEncodeNil(t *testing.T) {
	if _, err := Encode(nil, nil); err == nil {
		t.Error("nil signature should fail")
	}
	if _, err := Encode(&FieldSig{}, nil); err == nil {
		t.Error("field without type should fail")
	}
	if _, err := Encode(&FieldSig{Type: &CorLibType{Type: ElemClass}}, nil); err == nil {
		t.Error("class as primitive should fail")
	}
}

func TestElementSize(t *testing.T) {
	tests := []struct {
		e    ElementType
		want uint32
	}{
		{ElemBoolean, 1}, {ElemChar, 2}, {ElemI4, 4}, {ElemR8, 8}, {ElemString, 0}, {ElemI, 0},
	}
	for _, tt := range tests {
		if got := tt.e.Size(); got != tt.want {
			t.Errorf("Size(0x%02X): got %d, want %d", uint8(tt.e), got, tt.want)
		}
	}
}
