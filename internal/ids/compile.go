package ids

import (
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type xmlDocument struct {
	XMLName        xml.Name           `xml:"ids"`
	Title          string             `xml:"info>title"`
	Specifications []xmlSpecification `xml:"specifications>specification"`
}

type xmlSpecification struct {
	Name          string     `xml:"name,attr"`
	Identifier    string     `xml:"identifier,attr"`
	Description   string     `xml:"description,attr"`
	IfcVersion    string     `xml:"ifcVersion,attr"`
	Applicability *xmlFacets `xml:"applicability"`
	Requirements  *xmlFacets `xml:"requirements"`
}

type xmlFacets struct {
	Facets []xmlFacet `xml:",any"`
}

type xmlFacet struct {
	XMLName        xml.Name
	Cardinality    string    `xml:"cardinality,attr"`
	Instructions   string    `xml:"instructions,attr"`
	Name           *xmlValue `xml:"name"`
	PredefinedType *xmlValue `xml:"predefinedType"`
	PropertySet    *xmlValue `xml:"propertySet"`
	BaseName       *xmlValue `xml:"baseName"`
	Value          *xmlValue `xml:"value"`
}

type xmlValue struct {
	SimpleValue *string         `xml:"simpleValue"`
	Restriction *xmlRestriction `xml:"restriction"`
}

type xmlRestriction struct {
	Enumerations []xmlAttrValue `xml:"enumeration"`
	Patterns     []xmlAttrValue `xml:"pattern"`
}

type xmlAttrValue struct {
	Value string `xml:"value,attr"`
}

// CompilerFunc adapts Compile to the validation engine's compiler capability.
type CompilerFunc func(ctx context.Context, doc string) ([]Specification, error)

func (f CompilerFunc) Compile(ctx context.Context, doc string) ([]Specification, error) {
	return f(ctx, doc)
}

// Compile parses an IDS document into specifications. Specifications without
// applicability facets are skipped; an unusable facet fails the whole
// document.
func Compile(ctx context.Context, doc string) ([]Specification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var parsed xmlDocument
	if err := xml.Unmarshal([]byte(doc), &parsed); err != nil {
		return nil, errors.Wrap(err, "failed to parse ids document")
	}

	logger := zap.S().Named("ids")
	seen := make(map[string]int)
	specs := make([]Specification, 0, len(parsed.Specifications))

	for i, xs := range parsed.Specifications {
		if xs.Applicability == nil || len(xs.Applicability.Facets) == 0 {
			logger.Warnw("skipping specification without applicability", "index", i, "name", xs.Name)
			continue
		}

		spec := Specification{
			ID:            specID(xs.Identifier, i, seen),
			Name:          strings.TrimSpace(xs.Name),
			Description:   strings.TrimSpace(xs.Description),
			IfcVersions:   strings.Fields(xs.IfcVersion),
			Applicability: []Facet{},
			Requirements:  []Facet{},
		}

		for _, xf := range xs.Applicability.Facets {
			f, err := compileFacet(xf)
			if err != nil {
				return nil, errors.Wrapf(err, "specification %q applicability", spec.Title())
			}
			if f == nil {
				continue
			}
			spec.Applicability = append(spec.Applicability, *f)
		}
		if len(spec.Applicability) == 0 {
			logger.Warnw("skipping specification without supported applicability facets", "id", spec.ID)
			continue
		}

		if xs.Requirements != nil {
			for _, xf := range xs.Requirements.Facets {
				f, err := compileFacet(xf)
				if err != nil {
					return nil, errors.Wrapf(err, "specification %q requirements", spec.Title())
				}
				if f == nil {
					continue
				}
				spec.Requirements = append(spec.Requirements, *f)
			}
		}

		specs = append(specs, spec)
	}

	logger.Debugw("compiled ids document", "title", parsed.Title, "specifications", len(specs))
	return specs, nil
}

func specID(identifier string, index int, seen map[string]int) string {
	id := strings.TrimSpace(identifier)
	if id == "" {
		id = "S" + strconv.Itoa(index+1)
	}
	seen[id]++
	if n := seen[id]; n > 1 {
		return fmt.Sprintf("%s#%d", id, n)
	}
	return id
}

// compileFacet returns nil for facet kinds that are not evaluated.
func compileFacet(xf xmlFacet) (*Facet, error) {
	kind := FacetKind(xf.XMLName.Local)

	cardinality := Cardinality(strings.ToLower(strings.TrimSpace(xf.Cardinality)))
	switch cardinality {
	case "":
		cardinality = Required
	case Required, Optional, Prohibited:
	default:
		return nil, fmt.Errorf("%s facet: unknown cardinality %q", kind, xf.Cardinality)
	}

	f := &Facet{
		Kind:           kind,
		Name:           AnyValue(),
		PredefinedType: AnyValue(),
		PropertySet:    AnyValue(),
		BaseName:       AnyValue(),
		Value:          AnyValue(),
		Cardinality:    cardinality,
	}

	var err error
	switch kind {
	case FacetEntity:
		if xf.Name == nil {
			return nil, errors.New("entity facet without name")
		}
		if f.Name, err = compileValue(xf.Name, true); err != nil {
			return nil, err
		}
		if f.PredefinedType, err = compileValue(xf.PredefinedType, true); err != nil {
			return nil, err
		}
	case FacetAttribute:
		if xf.Name == nil {
			return nil, errors.New("attribute facet without name")
		}
		if f.Name, err = compileValue(xf.Name, false); err != nil {
			return nil, err
		}
		if f.Value, err = compileValue(xf.Value, false); err != nil {
			return nil, err
		}
	case FacetProperty:
		if xf.BaseName == nil {
			return nil, errors.New("property facet without baseName")
		}
		if f.PropertySet, err = compileValue(xf.PropertySet, false); err != nil {
			return nil, err
		}
		if f.BaseName, err = compileValue(xf.BaseName, false); err != nil {
			return nil, err
		}
		if f.Value, err = compileValue(xf.Value, false); err != nil {
			return nil, err
		}
	default:
		zap.S().Named("ids").Debugw("ignoring unsupported facet", "kind", kind)
		return nil, nil
	}

	f.Description = strings.TrimSpace(xf.Instructions)
	if f.Description == "" {
		f.Description = describe(f)
	}
	return f, nil
}

// compileValue turns an IDS value into a Matcher. Entity values are compared
// upper-cased, as the element class is.
func compileValue(v *xmlValue, upper bool) (Matcher, error) {
	if v == nil {
		return AnyValue(), nil
	}

	m := Matcher{Values: []string{}}
	norm := func(s string) string {
		s = strings.TrimSpace(s)
		if upper {
			return strings.ToUpper(s)
		}
		return s
	}

	if v.SimpleValue != nil {
		m.Values = append(m.Values, norm(*v.SimpleValue))
	}

	if r := v.Restriction; r != nil {
		for _, e := range r.Enumerations {
			m.Values = append(m.Values, norm(e.Value))
		}
		if len(r.Patterns) > 0 {
			parts := make([]string, 0, len(r.Patterns))
			for _, p := range r.Patterns {
				parts = append(parts, p.Value)
			}
			m.Pattern = "^(?:" + strings.Join(parts, "|") + ")$"
			if upper {
				m.Pattern = "(?i)" + m.Pattern
			}
			if _, err := regexp.Compile(m.Pattern); err != nil {
				return Matcher{}, fmt.Errorf("invalid pattern %q: %w", m.Pattern, err)
			}
		}
	}

	if len(m.Values) == 0 && m.Pattern == "" {
		return AnyValue(), nil
	}
	return m, nil
}

func describe(f *Facet) string {
	var b strings.Builder
	switch f.Kind {
	case FacetEntity:
		fmt.Fprintf(&b, "entity must be %s", describeMatcher(f.Name))
		if !f.PredefinedType.Any {
			fmt.Fprintf(&b, " with predefined type %s", describeMatcher(f.PredefinedType))
		}
	case FacetAttribute:
		fmt.Fprintf(&b, "attribute %s", describeMatcher(f.Name))
		if !f.Value.Any {
			fmt.Fprintf(&b, " must be %s", describeMatcher(f.Value))
		} else {
			b.WriteString(" must be provided")
		}
	case FacetProperty:
		fmt.Fprintf(&b, "property %s.%s", describeMatcher(f.PropertySet), describeMatcher(f.BaseName))
		if !f.Value.Any {
			fmt.Fprintf(&b, " must be %s", describeMatcher(f.Value))
		} else {
			b.WriteString(" must be provided")
		}
	}
	if f.Cardinality == Prohibited {
		return "prohibited: " + b.String()
	}
	return b.String()
}

func describeMatcher(m Matcher) string {
	switch {
	case m.Any:
		return "*"
	case m.Pattern != "" && len(m.Values) == 0:
		return "/" + m.Pattern + "/"
	case len(m.Values) == 1 && m.Pattern == "":
		return m.Values[0]
	default:
		alts := append([]string{}, m.Values...)
		if m.Pattern != "" {
			alts = append(alts, "/"+m.Pattern+"/")
		}
		return "one of [" + strings.Join(alts, ", ") + "]"
	}
}
