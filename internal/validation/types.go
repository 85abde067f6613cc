package validation

import (
	"context"
	"strconv"

	"github.com/kubev2v/ids-validator/internal/extract"
	"github.com/kubev2v/ids-validator/internal/ids"
)

type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusNA   Status = "na"
)

// Element is the payload validated against the compiled specifications.
// ID is an opaque identifier used for rule membership.
type Element struct {
	ID         string                    `json:"id"`
	GlobalID   string                    `json:"globalId"`
	ModelID    string                    `json:"modelId"`
	LocalID    int64                     `json:"localId"`
	IfcClass   string                    `json:"ifcClass"`
	Attributes map[string]any            `json:"attributes"`
	Psets      map[string]map[string]any `json:"psets"`
}

// ElementID is the global id, or modelId:localId when the element has none.
func ElementID(modelID string, localID int64, globalID string) string {
	if globalID != "" {
		return globalID
	}
	return modelID + ":" + strconv.FormatInt(localID, 10)
}

func NewElement(p extract.ProcessedElement) Element {
	return Element{
		ID:         ElementID(p.ModelID, p.LocalID, p.GlobalID),
		GlobalID:   p.GlobalID,
		ModelID:    p.ModelID,
		LocalID:    p.LocalID,
		IfcClass:   p.IfcClass,
		Attributes: p.Attributes,
		Psets:      p.Psets,
	}
}

func NewElements(processed []extract.ProcessedElement) []Element {
	out := make([]Element, 0, len(processed))
	for _, p := range processed {
		out = append(out, NewElement(p))
	}
	return out
}

// RuleResult holds the element ids per verdict for one rule. The three lists
// have set semantics and are pairwise disjoint.
type RuleResult struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Passed []string `json:"passed"`
	Failed []string `json:"failed"`
	NA     []string `json:"na"`
}

type DetailRow struct {
	ElementID string   `json:"elementId"`
	GlobalID  string   `json:"globalId"`
	IfcClass  string   `json:"ifcClass"`
	RuleID    string   `json:"ruleId"`
	RuleTitle string   `json:"ruleTitle"`
	Status    Status   `json:"status"`
	Reasons   []string `json:"reasons,omitempty"`
}

type ChunkResult struct {
	Rules []RuleResult `json:"rules"`
	Rows  []DetailRow  `json:"rows"`
}

type Result struct {
	RunID string       `json:"runId"`
	Rules []RuleResult `json:"rules"`
	Rows  []DetailRow  `json:"rows"`
}

// Compiler turns an IDS document into specifications.
type Compiler interface {
	Compile(ctx context.Context, doc string) ([]ids.Specification, error)
}

// ChunkValidator validates one chunk of elements against every specification.
// It must be deterministic for identical input.
type ChunkValidator interface {
	ValidateChunk(ctx context.Context, specs []ids.Specification, elements []Element) (*ChunkResult, error)
}

type ChunkValidatorFunc func(ctx context.Context, specs []ids.Specification, elements []Element) (*ChunkResult, error)

func (f ChunkValidatorFunc) ValidateChunk(ctx context.Context, specs []ids.Specification, elements []Element) (*ChunkResult, error) {
	return f(ctx, specs, elements)
}
