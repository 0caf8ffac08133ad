package item

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/playermail/content"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Schema identifies the payload layout written by Encode.
const Schema = "item.stacks/v1"

const envelopeVersion = 1

// ErrCorrupt is returned when a payload cannot be decoded.
var ErrCorrupt = errors.New("item: corrupt payload")

var registry = content.DefaultRegistry()

// envelope keeps the stack count next to the stacks so truncation is detectable.
type envelope struct {
	Version int     `bson:"v"`
	Count   int     `bson:"n"`
	Items   []Stack `bson:"items"`
}

// Encode serializes stacks into a text-safe payload.
// An empty input yields an empty payload, meaning "no attachment".
func Encode(stacks []Stack) (string, error) {
	if len(stacks) == 0 {
		return "", nil
	}
	raw, err := bson.Marshal(envelope{Version: envelopeVersion, Count: len(stacks), Items: stacks})
	if err != nil {
		return "", fmt.Errorf("item: marshal: %w", err)
	}
	return content.Frame(content.BSON, raw, content.WithSchema(Schema))
}

// Decode parses a payload produced by Encode. Every failure wraps ErrCorrupt.
func Decode(payload string) ([]Stack, error) {
	if payload == "" {
		return nil, nil
	}
	raw, _, err := content.Unframe(payload, registry)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	var env envelope
	if err := bson.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, env.Version)
	}
	if env.Count != len(env.Items) {
		return nil, fmt.Errorf("%w: expected %d stacks, found %d", ErrCorrupt, env.Count, len(env.Items))
	}
	return env.Items, nil
}

// Count returns the number of stacks in a payload, or zero if it is corrupt.
func Count(payload string) int {
	stacks, err := Decode(payload)
	if err != nil {
		return 0
	}
	return len(stacks)
}
