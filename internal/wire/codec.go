package wire

import (
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

const defaultMaxDepth = 256

// Codec encodes and decodes values in the tagged binary format. A Codec is
// safe for concurrent use; reference tables live per call.
type Codec struct {
	types    *TypeRegistry
	text     encoding.Encoding
	maxDepth int
}

type Option func(*Codec)

// WithRegistry binds the codec to an owned type registry.
func WithRegistry(r *TypeRegistry) Option {
	return func(c *Codec) {
		if r != nil {
			c.types = r
		}
	}
}

// WithTextEncoding sets the string text encoding. nil means UTF-8.
func WithTextEncoding(enc encoding.Encoding) Option {
	return func(c *Codec) {
		c.text = enc
	}
}

// WithMaxDepth bounds nesting on both encode and decode.
func WithMaxDepth(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.maxDepth = n
		}
	}
}

func NewCodec(opts ...Option) *Codec {
	c := &Codec{types: DefaultRegistry, maxDepth: defaultMaxDepth}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Default uses DefaultRegistry and UTF-8 strings.
var Default = NewCodec()

// TextEncoding resolves a WHATWG encoding label ("utf-8", "latin1",
// "shift_jis", ...). UTF-8 and the empty label return nil.
func TextEncoding(label string) (encoding.Encoding, error) {
	label = strings.TrimSpace(strings.ToLower(label))
	if label == "" || label == "utf-8" || label == "utf8" {
		return nil, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTextFormat, label)
	}
	return enc, nil
}

// Registry returns the type registry used for descriptors.
func (c *Codec) Registry() *TypeRegistry {
	return c.types
}

// Encode serializes v into a fresh buffer. Nothing is returned on error.
func (c *Codec) Encode(v any) ([]byte, error) {
	e := &encoder{c: c, refs: newEncodeRefs()}
	if err := e.encode(reflect.ValueOf(v), 0); err != nil {
		return nil, err
	}
	log.Trace().Int("bytes", len(e.buf)).Int("refs", e.refs.next).Msg("wire encode")
	return e.buf, nil
}

// EncodeTo encodes v and writes the complete payload to w.
func (c *Codec) EncodeTo(w io.Writer, v any) error {
	b, err := c.Encode(v)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Decode reads one value and requires the input to be fully consumed.
// Decoded values use the canonical Go shape of each tag.
func (c *Codec) Decode(data []byte) (any, error) {
	v, err := c.decodeValue(data)
	if err != nil || !v.IsValid() {
		return nil, err
	}
	return v.Interface(), nil
}

// DecodeInto decodes data and assigns the result into the value pointed to
// by out, converting where the shapes allow it.
func (c *Codec) DecodeInto(data []byte, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: DecodeInto needs a non-nil pointer, got %T", ErrTypeMismatch, out)
	}
	v, err := c.decodeValue(data)
	if err != nil {
		return err
	}
	return assign(rv.Elem(), v)
}

// DecodeFrom reads r to EOF and decodes a single value.
func (c *Codec) DecodeFrom(r io.Reader) (any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return c.Decode(data)
}

func (c *Codec) decodeValue(data []byte) (reflect.Value, error) {
	d := &decoder{c: c, data: data}
	v, err := d.decode(0)
	if err != nil {
		return reflect.Value{}, err
	}
	if d.pos != len(d.data) {
		return reflect.Value{}, fmt.Errorf("%w: %d unread", ErrTrailingBytes, len(d.data)-d.pos)
	}
	log.Trace().Int("bytes", len(data)).Int("refs", len(d.refs)).Msg("wire decode")
	return v, nil
}

func (c *Codec) encodeText(s string) ([]byte, error) {
	if c.text == nil {
		return []byte(s), nil
	}
	b, err := c.text.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTextFormat, err)
	}
	return b, nil
}

func (c *Codec) decodeText(b []byte) (string, error) {
	if c.text == nil {
		return string(b), nil
	}
	out, err := c.text.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTextFormat, err)
	}
	return string(out), nil
}
