// Package item models the item stacks carried by mail attachments and
// encodes them into the opaque payload stored on a mail record.
package item

import "strings"

// Placeholder materials the host uses for "no item" slots.
var airMaterials = map[string]bool{
	"AIR":      true,
	"CAVE_AIR": true,
	"VOID_AIR": true,
}

// Stack is one item stack as handed over by the host.
type Stack struct {
	Material     string         `bson:"material" json:"material"`
	Amount       int            `bson:"amount" json:"amount"`
	DisplayName  string         `bson:"display_name,omitempty" json:"display_name,omitempty"`
	Lore         []string       `bson:"lore,omitempty" json:"lore,omitempty"`
	Enchantments map[string]int `bson:"enchantments,omitempty" json:"enchantments,omitempty"`
	// Data is host-specific serialized item state carried verbatim.
	Data []byte `bson:"data,omitempty" json:"data,omitempty"`
}

// IsEmpty reports whether the stack is an empty or air placeholder.
func (s Stack) IsEmpty() bool {
	if s.Amount <= 0 {
		return true
	}
	m := strings.ToUpper(strings.TrimSpace(s.Material))
	return m == "" || airMaterials[m]
}

// Clone returns a deep copy.
func (s Stack) Clone() Stack {
	c := s
	if s.Lore != nil {
		c.Lore = append([]string(nil), s.Lore...)
	}
	if s.Enchantments != nil {
		c.Enchantments = make(map[string]int, len(s.Enchantments))
		for k, v := range s.Enchantments {
			c.Enchantments[k] = v
		}
	}
	if s.Data != nil {
		c.Data = append([]byte(nil), s.Data...)
	}
	return c
}

// Filter drops nil and empty stacks and returns copies of the rest.
func Filter(stacks []*Stack) []Stack {
	var out []Stack
	for _, s := range stacks {
		if s == nil || s.IsEmpty() {
			continue
		}
		out = append(out, s.Clone())
	}
	return out
}

// Total returns the sum of the stack amounts.
func Total(stacks []Stack) int {
	n := 0
	for _, s := range stacks {
		n += s.Amount
	}
	return n
}
