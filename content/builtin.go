package content

import "encoding/base64"

// Codecs every Registry from DefaultRegistry understands. JSON and Plain
// are already text and pass through; BSON and OctetStream are base64.
var (
	JSON        Codec = passthrough("application/json")
	Plain       Codec = passthrough("text/plain")
	BSON        Codec = base64Codec("application/bson")
	OctetStream Codec = base64Codec("application/octet-stream")
)

// DefaultRegistry returns a registry holding the built-in codecs.
func DefaultRegistry() *Registry {
	return NewRegistry(JSON, Plain, BSON, OctetStream)
}

type passthrough string

func (c passthrough) ContentType() string                { return string(c) }
func (c passthrough) Encode(data []byte) (string, error) { return string(data), nil }
func (c passthrough) Decode(body string) ([]byte, error) { return []byte(body), nil }

type base64Codec string

func (c base64Codec) ContentType() string { return string(c) }

func (c base64Codec) Encode(data []byte) (string, error) {
	return base64.StdEncoding.EncodeToString(data), nil
}

func (c base64Codec) Decode(body string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(body)
}
