package playlist

import (
	"fmt"
	"strings"
)

// Field names one copyable channel attribute.
type Field uint8

const (
	FieldTVGID Field = iota
	FieldTVGName
	FieldTVGLogo
	FieldGroupTitle
	FieldName
	FieldURL
	numFields
)

var fieldNames = [numFields]string{
	FieldTVGID:      "tvg-id",
	FieldTVGName:    "tvg-name",
	FieldTVGLogo:    "tvg-logo",
	FieldGroupTitle: "group-title",
	FieldName:       "name",
	FieldURL:        "url",
}

func (f Field) String() string {
	if f < numFields {
		return fieldNames[f]
	}
	return fmt.Sprintf("Field(%d)", uint8(f))
}

// ParseField accepts attribute spellings ("tvg-logo") as well as camel and
// snake variants ("tvgLogo", "tvg_logo").
func ParseField(s string) (Field, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "", "_", "").Replace(key)
	switch key {
	case "tvgid":
		return FieldTVGID, nil
	case "tvgname":
		return FieldTVGName, nil
	case "tvglogo", "logo":
		return FieldTVGLogo, nil
	case "grouptitle", "group":
		return FieldGroupTitle, nil
	case "name":
		return FieldName, nil
	case "url":
		return FieldURL, nil
	}
	return 0, fmt.Errorf("playlist: unknown field %q", s)
}

// Get returns the value of f on c.
func (f Field) Get(c Channel) string {
	switch f {
	case FieldTVGID:
		return c.TVGID
	case FieldTVGName:
		return c.TVGName
	case FieldTVGLogo:
		return c.TVGLogo
	case FieldGroupTitle:
		return c.GroupTitle
	case FieldName:
		return c.Name
	case FieldURL:
		return c.URL
	}
	return ""
}

// Set stores v into field f of c.
func (f Field) Set(c *Channel, v string) {
	switch f {
	case FieldTVGID:
		c.TVGID = v
	case FieldTVGName:
		c.TVGName = v
	case FieldTVGLogo:
		c.TVGLogo = v
	case FieldGroupTitle:
		c.GroupTitle = v
	case FieldName:
		c.Name = v
	case FieldURL:
		c.URL = v
	}
}

// FieldSet is a small bitset of fields.
type FieldSet uint8

// NewFieldSet returns the set holding fields.
func NewFieldSet(fields ...Field) FieldSet {
	var s FieldSet
	for _, f := range fields {
		if f < numFields {
			s |= 1 << f
		}
	}
	return s
}

// ParseFieldSet parses a comma-separated field list such as "url,tvg-logo".
func ParseFieldSet(s string) (FieldSet, error) {
	var set FieldSet
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		f, err := ParseField(part)
		if err != nil {
			return 0, err
		}
		set |= 1 << f
	}
	return set, nil
}

func (s FieldSet) Has(f Field) bool { return f < numFields && s&(1<<f) != 0 }

func (s FieldSet) Empty() bool { return s == 0 }

// Fields lists the members in declaration order.
func (s FieldSet) Fields() []Field {
	var out []Field
	for f := Field(0); f < numFields; f++ {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

func (s FieldSet) String() string {
	fields := s.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.String()
	}
	return strings.Join(names, ",")
}

// CopyFields copies exactly the fields in set from src onto dst.
func CopyFields(dst *Channel, src Channel, set FieldSet) {
	for _, f := range set.Fields() {
		f.Set(dst, f.Get(src))
	}
}
