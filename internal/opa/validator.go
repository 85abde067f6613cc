package opa

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"runtime"
	"slices"

	"github.com/kubev2v/ids-validator/internal/ids"
	"github.com/kubev2v/ids-validator/internal/validation"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const verdictsQuery = "data.ids.check.verdicts"

//go:embed policy/ids.rego
var idsPolicy string

// Validator evaluates compiled IDS specifications against elements with a
// Rego policy prepared once.
type Validator struct {
	preparedQuery rego.PreparedEvalQuery
	workers       int
}

type Option func(*Validator)

// WithWorkers bounds the number of elements evaluated concurrently within a chunk.
func WithWorkers(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.workers = n
		}
	}
}

// NewValidator uses the built-in IDS policy.
func NewValidator(opts ...Option) (*Validator, error) {
	return NewValidatorWithPolicies(map[string]string{"ids.rego": idsPolicy}, opts...)
}

// NewValidatorFromDir loads the policies from a directory. They must define
// data.ids.check.verdicts the way the built-in policy does.
func NewValidatorFromDir(policiesDir string, opts ...Option) (*Validator, error) {
	policies, err := NewPolicyReader().ReadPolicies(policiesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read policies: %w", err)
	}
	return NewValidatorWithPolicies(policies, opts...)
}

func NewValidatorWithPolicies(policies map[string]string, opts ...Option) (*Validator, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("no policies provided for validation")
	}

	v := &Validator{workers: runtime.NumCPU()}
	for _, opt := range opts {
		opt(v)
	}

	if err := v.compilePolicies(policies); err != nil {
		return nil, fmt.Errorf("failed to compile policies: %w", err)
	}

	zap.S().Named("opa").Infof("OPA validator initialized with %d policies", len(policies))
	return v, nil
}

func (v *Validator) compilePolicies(policies map[string]string) error {
	compiler := ast.NewCompiler()
	modules := make(map[string]*ast.Module, len(policies))

	for filename, content := range policies {
		module, err := ast.ParseModuleWithOpts(filename, content, ast.ParserOptions{
			RegoVersion: ast.RegoV1,
		})
		if err != nil {
			return fmt.Errorf("failed to parse policy %s: %w", filename, err)
		}
		modules[filename] = module
	}

	compiler.Compile(modules)
	if compiler.Failed() {
		return fmt.Errorf("policy compilation failed: %v", compiler.Errors)
	}

	preparedQuery, err := rego.New(
		rego.Query(verdictsQuery),
		rego.Compiler(compiler),
		rego.SetRegoVersion(ast.RegoV1),
	).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prepare rego query: %w", err)
	}

	v.preparedQuery = preparedQuery
	return nil
}

type verdict struct {
	applicable bool
	failures   []int
}

// ValidateChunk evaluates every element against every specification. Rows
// are ordered by element, then by specification.
func (v *Validator) ValidateChunk(ctx context.Context, specs []ids.Specification, elements []validation.Element) (*validation.ChunkResult, error) {
	specsValue, err := toValue(specs)
	if err != nil {
		return nil, fmt.Errorf("failed to convert specifications: %w", err)
	}

	verdicts := make([][]verdict, len(elements))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)

	for i := range elements {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			el := elements[i]
			elementValue, err := toValue(el)
			if err != nil {
				return fmt.Errorf("failed to convert element %q: %w", el.ID, err)
			}
			input := ast.NewObject(
				ast.Item(ast.StringTerm("specs"), ast.NewTerm(specsValue)),
				ast.Item(ast.StringTerm("element"), ast.NewTerm(elementValue)),
			)
			vs, err := v.evaluate(gctx, input, len(specs))
			if err != nil {
				return fmt.Errorf("failed to validate element %q: %w", el.ID, err)
			}
			verdicts[i] = vs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return buildResult(specs, elements, verdicts), nil
}

func (v *Validator) evaluate(ctx context.Context, input ast.Value, specCount int) ([]verdict, error) {
	resultSet, err := v.preparedQuery.Eval(ctx, rego.EvalParsedInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}
	if len(resultSet) == 0 || len(resultSet[0].Expressions) == 0 {
		return nil, fmt.Errorf("no policy results returned")
	}

	items, ok := resultSet[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected result type from policy evaluation: %T", resultSet[0].Expressions[0].Value)
	}

	out := make([]verdict, specCount)
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unexpected verdict type: %T", item)
		}
		idx, err := toInt(m["index"])
		if err != nil || idx < 0 || idx >= specCount {
			return nil, fmt.Errorf("invalid verdict index %v", m["index"])
		}
		vd := verdict{}
		vd.applicable, _ = m["applicable"].(bool)
		failures, _ := m["failures"].([]interface{})
		for _, f := range failures {
			n, err := toInt(f)
			if err != nil {
				return nil, fmt.Errorf("invalid failure index %v", f)
			}
			vd.failures = append(vd.failures, n)
		}
		slices.Sort(vd.failures)
		out[idx] = vd
	}
	return out, nil
}

func buildResult(specs []ids.Specification, elements []validation.Element, verdicts [][]verdict) *validation.ChunkResult {
	rules := make([]validation.RuleResult, len(specs))
	for i, spec := range specs {
		rules[i] = validation.RuleResult{
			ID:     spec.ID,
			Title:  spec.Title(),
			Passed: []string{},
			Failed: []string{},
			NA:     []string{},
		}
	}

	rows := make([]validation.DetailRow, 0, len(elements)*len(specs))
	for ei, el := range elements {
		for si, spec := range specs {
			vd := verdicts[ei][si]
			row := validation.DetailRow{
				ElementID: el.ID,
				GlobalID:  el.GlobalID,
				IfcClass:  el.IfcClass,
				RuleID:    spec.ID,
				RuleTitle: spec.Title(),
			}
			switch {
			case !vd.applicable:
				row.Status = validation.StatusNA
				rules[si].NA = append(rules[si].NA, el.ID)
			case len(vd.failures) == 0:
				row.Status = validation.StatusPass
				rules[si].Passed = append(rules[si].Passed, el.ID)
			default:
				row.Status = validation.StatusFail
				rules[si].Failed = append(rules[si].Failed, el.ID)
				for _, f := range vd.failures {
					if f < len(spec.Requirements) {
						row.Reasons = append(row.Reasons, spec.Requirements[f].Description)
					}
				}
			}
			rows = append(rows, row)
		}
	}

	return &validation.ChunkResult{Rules: rules, Rows: rows}
}

// toValue converts x to a Rego value through its JSON form.
func toValue(x any) (ast.Value, error) {
	data, err := json.Marshal(x)
	if err != nil {
		return nil, err
	}
	return ast.ValueFromReader(bytes.NewReader(data))
}

func toInt(x any) (int, error) {
	switch n := x.(type) {
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("not a number: %v", x)
	}
}
