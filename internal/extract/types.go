package extract

// RawElementRecord is a single element as produced by the model import step.
type RawElementRecord struct {
	ModelID  string         `json:"modelId"`
	LocalID  int64          `json:"localId" validate:"gte=0"`
	GlobalID string         `json:"globalId"`
	RawData  map[string]any `json:"rawData"`
}

// ProcessedElement is the normalized form of a RawElementRecord.
type ProcessedElement struct {
	ModelID    string                    `json:"modelId"`
	LocalID    int64                     `json:"localId"`
	GlobalID   string                    `json:"globalId"`
	IfcClass   string                    `json:"ifcClass"`
	Psets      map[string]map[string]any `json:"psets"`
	Attributes map[string]any            `json:"attributes"`
	Raw        map[string]any            `json:"raw"`
}

// Skip records an element that could not be extracted.
type Skip struct {
	ModelID  string `json:"modelId"`
	LocalID  int64  `json:"localId"`
	GlobalID string `json:"globalId"`
	Reason   string `json:"reason"`
}

// BatchOutcome is the result of extracting one batch: every record ends up
// either in Elements or in Skipped, in input order.
type BatchOutcome struct {
	Elements []ProcessedElement `json:"elements"`
	Skipped  []Skip             `json:"skipped,omitempty"`
}
