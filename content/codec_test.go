package content

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestTextCodec_RoundTrip(t *testing.T) {
	input := []byte(`{"material":"DIAMOND","amount":3}`)

	for _, c := range []Codec{JSON, Plain} {
		t.Run(c.ContentType(), func(t *testing.T) {
			encoded, err := c.Encode(input)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if encoded != string(input) {
				t.Errorf("Encode should pass through, got %q", encoded)
			}
			decoded, err := c.Decode(encoded)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if string(decoded) != string(input) {
				t.Errorf("Decode mismatch: got %q, want %q", decoded, input)
			}
		})
	}
}

func TestBinaryCodec_RoundTrip(t *testing.T) {
	input := []byte{0x00, 0x01, 0xFE, 0xFF, 0x2C}

	for _, c := range []Codec{BSON, OctetStream} {
		t.Run(c.ContentType(), func(t *testing.T) {
			encoded, err := c.Encode(input)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if encoded != base64.StdEncoding.EncodeToString(input) {
				t.Errorf("unexpected encoding %q", encoded)
			}
			decoded, err := c.Decode(encoded)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if string(decoded) != string(input) {
				t.Errorf("Decode mismatch: got %v, want %v", decoded, input)
			}
		})
	}
}

func TestFrameUnframe(t *testing.T) {
	reg := DefaultRegistry()
	input := []byte("hello, world")

	t.Run("with schema", func(t *testing.T) {
		payload, err := Frame(BSON, input, WithSchema("item.stacks/v1"))
		if err != nil {
			t.Fatalf("Frame: %v", err)
		}
		if !strings.HasPrefix(payload, "application/bson;schema=item.stacks/v1,") {
			t.Errorf("unexpected header: %q", payload)
		}
		data, h, err := Unframe(payload, reg)
		if err != nil {
			t.Fatalf("Unframe: %v", err)
		}
		if string(data) != string(input) {
			t.Errorf("got %q, want %q", data, input)
		}
		if h.ContentType != "application/bson" || h.Schema != "item.stacks/v1" {
			t.Errorf("unexpected header: %+v", h)
		}
	})

	t.Run("text body keeps commas", func(t *testing.T) {
		payload, err := Frame(Plain, input)
		if err != nil {
			t.Fatal(err)
		}
		data, h, err := Unframe(payload, reg)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != string(input) || h.Schema != "" {
			t.Errorf("got %q %+v", data, h)
		}
	})

	t.Run("schema with comma ignored", func(t *testing.T) {
		payload, _ := Frame(Plain, input, WithSchema("a,b"))
		if strings.Contains(payload, "schema=") {
			t.Errorf("schema with comma should be dropped: %q", payload)
		}
	})
}

func TestUnframeErrors(t *testing.T) {
	reg := DefaultRegistry()
	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"empty", "", ErrMalformed},
		{"no header", "abc", ErrMalformed},
		{"empty content type", ";schema=x,abc", ErrMalformed},
		{"unknown type", "application/x-unknown,abc", ErrUnsupportedContentType},
		{"bad base64", "application/bson,!!!", ErrDecoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Unframe(tt.payload, reg)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(JSON)
	if _, ok := reg.Lookup("application/bson"); ok {
		t.Fatal("BSON should not be registered")
	}
	reg.Register(BSON)
	if c, ok := reg.Lookup("application/bson"); !ok || c != BSON {
		t.Fatal("BSON should be registered")
	}
}
