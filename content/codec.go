// Package content provides a content-type codec layer for opaque payloads
// stored in text columns.
//
// Mail records store attachments as plain strings. This package frames raw
// bytes into a self-describing, text-safe string and reads them back:
//
//	<content-type>[;schema=<id>],<encoded body>
//
// The header names the codec that produced the body, so a reader holding a
// [Registry] can decode any payload without out-of-band metadata. Payloads
// written by a newer schema remain readable by content type alone.
//
// # Codec Interface
//
// A [Codec] converts between raw bytes and a text-safe string:
//
//   - Text-safe formats (JSON, plain text) pass through unchanged.
//   - Binary formats (BSON, octet streams) are base64-encoded.
//
// The application handles serialization (struct to bytes) separately.
// The codec handles only the text-encoding concern.
//
// # Usage
//
//	raw, _ := bson.Marshal(envelope)
//	payload, _ := content.Frame(content.BSON, raw, content.WithSchema("item.stacks/v1"))
//	...
//	raw, hdr, err := content.Unframe(payload, content.DefaultRegistry())
package content

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Sentinel errors.
var (
	// ErrUnsupportedContentType is returned when no codec is registered for a content type.
	ErrUnsupportedContentType = errors.New("content: unsupported content type")

	// ErrEncoding is returned when a codec fails to encode data.
	ErrEncoding = errors.New("content: encoding failed")

	// ErrDecoding is returned when a codec fails to decode a body.
	ErrDecoding = errors.New("content: decoding failed")

	// ErrMalformed is returned when a payload has no valid header.
	ErrMalformed = errors.New("content: malformed payload")
)

const schemaParam = ";schema="

// Codec converts between raw bytes and a text-safe string representation.
type Codec interface {
	// ContentType returns the MIME type this codec handles.
	ContentType() string

	// Encode converts raw bytes to a text-safe string.
	Encode(data []byte) (string, error)

	// Decode converts a text body back to the original raw bytes.
	Decode(body string) ([]byte, error)
}

// Registry maps content types to codecs.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewRegistry creates a registry pre-loaded with the given codecs.
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{
		codecs: make(map[string]Codec, len(codecs)),
	}
	for _, c := range codecs {
		r.codecs[c.ContentType()] = c
	}
	return r
}

// Register adds a codec to the registry. If a codec for the same content type
// already exists, it is replaced.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	r.codecs[c.ContentType()] = c
	r.mu.Unlock()
}

// Lookup returns the codec for the given content type.
func (r *Registry) Lookup(contentType string) (Codec, bool) {
	r.mu.RLock()
	c, ok := r.codecs[contentType]
	r.mu.RUnlock()
	return c, ok
}

// Header describes a framed payload.
type Header struct {
	ContentType string
	Schema      string
}

// Frame encodes data with the codec and prefixes the content-type header.
func Frame(codec Codec, data []byte, opts ...FrameOption) (string, error) {
	body, err := codec.Encode(data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	var o frameOptions
	for _, opt := range opts {
		opt(&o)
	}

	var sb strings.Builder
	sb.Grow(len(codec.ContentType()) + len(o.schema) + len(schemaParam) + 1 + len(body))
	sb.WriteString(codec.ContentType())
	if o.schema != "" {
		sb.WriteString(schemaParam)
		sb.WriteString(o.schema)
	}
	sb.WriteByte(',')
	sb.WriteString(body)
	return sb.String(), nil
}

// ParseHeader returns the header of a framed payload and the encoded body.
func ParseHeader(payload string) (Header, string, error) {
	head, body, ok := strings.Cut(payload, ",")
	if !ok || head == "" {
		return Header{}, "", ErrMalformed
	}
	var h Header
	h.ContentType, h.Schema, _ = strings.Cut(head, schemaParam)
	if h.ContentType == "" {
		return Header{}, "", ErrMalformed
	}
	return h, body, nil
}

// Unframe parses the header, looks up the codec in the registry and decodes
// the body to raw bytes.
func Unframe(payload string, registry *Registry) ([]byte, Header, error) {
	h, body, err := ParseHeader(payload)
	if err != nil {
		return nil, Header{}, err
	}

	codec, ok := registry.Lookup(h.ContentType)
	if !ok {
		return nil, h, fmt.Errorf("%w: %s", ErrUnsupportedContentType, h.ContentType)
	}

	data, err := codec.Decode(body)
	if err != nil {
		return nil, h, fmt.Errorf("%w: %w", ErrDecoding, err)
	}
	return data, h, nil
}

// FrameOption configures Frame behavior.
type FrameOption func(*frameOptions)

type frameOptions struct {
	schema string
}

// WithSchema records a schema identifier in the payload header.
// The identifier must not contain a comma.
func WithSchema(schema string) FrameOption {
	return func(o *frameOptions) {
		if !strings.Contains(schema, ",") {
			o.schema = schema
		}
	}
}
