package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Field types used by the form metadata of a request kind
const (
	FieldText     = "text"
	FieldTextarea = "textarea"
	FieldDate     = "date"
	FieldDecimal  = "decimal"
)

// FieldSpec describes one kind-specific payload field for form
// generation and payload validation.
type FieldSpec struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Kind describes one concrete request type: its numbering prefix, URL
// slug and payload schema.
type Kind struct {
	Slug   string      `json:"slug"`
	Prefix string      `json:"prefix"`
	Name   string      `json:"name"`
	Fields []FieldSpec `json:"fields"`
}

// ValidatePayload checks the raw JSONB payload against the kind's
// field schema: required fields present and non-empty, dates and
// decimals parseable.
func (k Kind) ValidatePayload(raw string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return fmt.Errorf("payload is not a JSON object: %w", err)
	}

	for _, spec := range k.Fields {
		val, ok := fields[spec.Name]
		if !ok {
			if spec.Required {
				return fmt.Errorf("field %q is required", spec.Name)
			}
			continue
		}

		var s string
		if err := json.Unmarshal(val, &s); err != nil {
			return fmt.Errorf("field %q must be a string", spec.Name)
		}
		if spec.Required && strings.TrimSpace(s) == "" {
			return fmt.Errorf("field %q is required", spec.Name)
		}
		if s == "" {
			continue
		}

		switch spec.Type {
		case FieldDate:
			if _, err := time.Parse("2006-01-02", s); err != nil {
				return fmt.Errorf("field %q must be a date (YYYY-MM-DD)", spec.Name)
			}
		case FieldDecimal:
			d, err := decimal.NewFromString(s)
			if err != nil {
				return fmt.Errorf("field %q must be a decimal amount", spec.Name)
			}
			if d.IsNegative() {
				return fmt.Errorf("field %q must not be negative", spec.Name)
			}
		}
	}
	return nil
}

// Registry resolves kind tags to their descriptors. It is assembled
// once at process start and passed by dependency injection; nothing
// mutates it afterwards.
type Registry struct {
	kinds  []Kind
	bySlug map[string]Kind
}

func NewRegistry(kinds ...Kind) *Registry {
	r := &Registry{bySlug: make(map[string]Kind, len(kinds))}
	for _, k := range kinds {
		r.kinds = append(r.kinds, k)
		r.bySlug[k.Slug] = k
	}
	return r
}

// BySlug looks up a kind descriptor by its tag.
func (r *Registry) BySlug(slug string) (Kind, bool) {
	k, ok := r.bySlug[slug]
	return k, ok
}

// Kinds returns all registered kinds in registration order.
func (r *Registry) Kinds() []Kind {
	return r.kinds
}

// DecodePayload resolves a request's payload through its kind schema
// into label/value pairs for display. An unregistered kind is not an
// error: the raw payload keys are returned as-is, in key order, with
// non-string values rendered as their JSON text.
func (r *Registry) DecodePayload(req *Request) []PayloadField {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(req.Payload), &raw); err != nil {
		return nil
	}

	asString := func(v json.RawMessage) string {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
		return string(v)
	}

	kind, ok := r.bySlug[req.Kind]
	if !ok {
		names := make([]string, 0, len(raw))
		for name := range raw {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]PayloadField, 0, len(names))
		for _, name := range names {
			out = append(out, PayloadField{Name: name, Label: name, Value: asString(raw[name])})
		}
		return out
	}

	out := make([]PayloadField, 0, len(kind.Fields))
	for _, spec := range kind.Fields {
		value := ""
		if v, ok := raw[spec.Name]; ok {
			value = asString(v)
		}
		out = append(out, PayloadField{Name: spec.Name, Label: spec.Label, Value: value})
	}
	return out
}

// PayloadField is one decoded payload entry for detail rendering.
type PayloadField struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// DefaultRegistry returns the built-in request kinds.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Kind{
			Slug:   "simple",
			Prefix: "REQ-S",
			Name:   "Simple request",
			Fields: []FieldSpec{
				{Name: "content", Label: "Content", Type: FieldTextarea, Required: true},
			},
		},
		Kind{
			Slug:   "trip",
			Prefix: "REQ-L",
			Name:   "Local business trip request",
			Fields: []FieldSpec{
				{Name: "trip_date", Label: "Date", Type: FieldDate, Required: true},
				{Name: "destination", Label: "Destination", Type: FieldText, Required: true},
				{Name: "note", Label: "Note", Type: FieldTextarea, Required: false},
			},
		},
		Kind{
			Slug:   "expense",
			Prefix: "REQ-E",
			Name:   "Expense reimbursement request",
			Fields: []FieldSpec{
				{Name: "amount", Label: "Amount", Type: FieldDecimal, Required: true},
				{Name: "purpose", Label: "Purpose", Type: FieldTextarea, Required: true},
			},
		},
	)
}
