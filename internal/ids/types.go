package ids

type FacetKind string

const (
	FacetEntity    FacetKind = "entity"
	FacetAttribute FacetKind = "attribute"
	FacetProperty  FacetKind = "property"
)

type Cardinality string

const (
	Required   Cardinality = "required"
	Optional   Cardinality = "optional"
	Prohibited Cardinality = "prohibited"
)

// Matcher constrains a single value. Any matches everything, otherwise a
// value matches when its text equals one of Values or matches Pattern.
type Matcher struct {
	Any     bool     `json:"any"`
	Values  []string `json:"values"`
	Pattern string   `json:"pattern"`
}

func AnyValue() Matcher {
	return Matcher{Any: true, Values: []string{}}
}

type Facet struct {
	Kind           FacetKind   `json:"kind"`
	Name           Matcher     `json:"name"`
	PredefinedType Matcher     `json:"predefinedType"`
	PropertySet    Matcher     `json:"propertySet"`
	BaseName       Matcher     `json:"baseName"`
	Value          Matcher     `json:"value"`
	Cardinality    Cardinality `json:"cardinality"`
	Description    string      `json:"description"`
}

// Specification is one compiled rule of an IDS document.
type Specification struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	IfcVersions   []string `json:"ifcVersions"`
	Applicability []Facet  `json:"applicability"`
	Requirements  []Facet  `json:"requirements"`
}

func (s Specification) Title() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}
