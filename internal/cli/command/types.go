package command

import (
	"fmt"
	"slices"
	"strings"
)

// FieldType controls how a value is validated and where it is sent.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt              // query parameter
	FieldBool             // query flag, only sent when true
	FieldFile             // local path read into the request body
)

// Field is one named input of a command.
type Field struct {
	Name     string
	Aliases  []string
	Prompt   string
	Type     FieldType
	Required bool
	// Default names the session state key consulted when the field is omitted.
	Default string
}

func (f Field) matches(key string) bool {
	return strings.EqualFold(f.Name, key) || slices.ContainsFunc(f.Aliases, func(a string) bool {
		return strings.EqualFold(a, key)
	})
}

// Command binds a judgectl verb to an API route. PathTemplate segments
// starting with ':' are filled from fields of the same name.
type Command struct {
	Name         string
	Summary      string
	Method       string
	PathTemplate string
	Stream       bool // served over the watch websocket
	Fields       []Field
}

func (c Command) field(key string) (Field, bool) {
	i := slices.IndexFunc(c.Fields, func(f Field) bool { return f.matches(key) })
	if i < 0 {
		return Field{}, false
	}
	return c.Fields[i], true
}

type RequestSpec struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Params maps lower-cased field names to raw values.
type Params map[string]string

func (p Params) Get(key string) string { return p[strings.ToLower(key)] }

func (p Params) Set(key, value string) { p[strings.ToLower(key)] = value }

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

// Canonicalize renames alias keys to their field names. An explicit value
// under the field name wins over an alias.
func (p Params) Canonicalize(fields []Field) {
	cmd := Command{Fields: fields}
	for key, value := range p {
		f, ok := cmd.field(key)
		if !ok || strings.EqualFold(f.Name, key) {
			continue
		}
		delete(p, key)
		if !p.Has(f.Name) {
			p.Set(f.Name, value)
		}
	}
}

// ParseArgs reads key=value tokens first, then hands bare tokens to the
// unfilled fields in declaration order.
func ParseArgs(cmd Command, tokens []string) (Params, error) {
	params := Params{}
	var bare []string
	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, "=")
		switch {
		case !ok:
			bare = append(bare, tok)
		case key == "":
			return nil, fmt.Errorf("invalid param: %s", tok)
		default:
			params.Set(key, value)
		}
	}
	params.Canonicalize(cmd.Fields)

	open := slices.DeleteFunc(slices.Clone(cmd.Fields), func(f Field) bool { return params.Has(f.Name) })
	if len(bare) > len(open) {
		return nil, fmt.Errorf("unexpected argument: %s", bare[len(open)])
	}
	for i, value := range bare {
		params.Set(open[i].Name, value)
	}
	return params, nil
}

// Missing lists required fields that are still blank.
func Missing(cmd Command, params Params) []Field {
	return slices.DeleteFunc(slices.Clone(cmd.Fields), func(f Field) bool {
		return !f.Required || strings.TrimSpace(params.Get(f.Name)) != ""
	})
}
