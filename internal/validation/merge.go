package validation

// Merge unions incoming's verdict sets into target, keeping target's order
// and appending only ids not already present.
func Merge(target *RuleResult, incoming RuleResult) {
	idx := newIndex(target)
	idx.merge(target, incoming)
}

type ruleIndex struct {
	passed map[string]struct{}
	failed map[string]struct{}
	na     map[string]struct{}
}

func newIndex(r *RuleResult) *ruleIndex {
	idx := &ruleIndex{
		passed: make(map[string]struct{}, len(r.Passed)),
		failed: make(map[string]struct{}, len(r.Failed)),
		na:     make(map[string]struct{}, len(r.NA)),
	}
	for _, id := range r.Passed {
		idx.passed[id] = struct{}{}
	}
	for _, id := range r.Failed {
		idx.failed[id] = struct{}{}
	}
	for _, id := range r.NA {
		idx.na[id] = struct{}{}
	}
	return idx
}

func (idx *ruleIndex) merge(target *RuleResult, incoming RuleResult) {
	target.Passed = union(target.Passed, idx.passed, incoming.Passed)
	target.Failed = union(target.Failed, idx.failed, incoming.Failed)
	target.NA = union(target.NA, idx.na, incoming.NA)
}

func union(dst []string, seen map[string]struct{}, src []string) []string {
	for _, id := range src {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		dst = append(dst, id)
	}
	return dst
}

// Aggregate accumulates rule results across chunks keyed by rule id, in the
// order rule ids were first seen.
type Aggregate struct {
	order   []string
	rules   map[string]*RuleResult
	indexes map[string]*ruleIndex
}

func NewAggregate() *Aggregate {
	return &Aggregate{
		rules:   make(map[string]*RuleResult),
		indexes: make(map[string]*ruleIndex),
	}
}

func (a *Aggregate) Add(incoming RuleResult) {
	target, ok := a.rules[incoming.ID]
	if !ok {
		target = &RuleResult{
			ID:     incoming.ID,
			Title:  incoming.Title,
			Passed: []string{},
			Failed: []string{},
			NA:     []string{},
		}
		a.rules[incoming.ID] = target
		a.indexes[incoming.ID] = newIndex(target)
		a.order = append(a.order, incoming.ID)
	}
	a.indexes[incoming.ID].merge(target, incoming)
}

func (a *Aggregate) Len() int {
	return len(a.order)
}

// Rules returns copies of the aggregated results in first-seen order.
func (a *Aggregate) Rules() []RuleResult {
	out := make([]RuleResult, 0, len(a.order))
	for _, id := range a.order {
		r := a.rules[id]
		out = append(out, RuleResult{
			ID:     r.ID,
			Title:  r.Title,
			Passed: append([]string{}, r.Passed...),
			Failed: append([]string{}, r.Failed...),
			NA:     append([]string{}, r.NA...),
		})
	}
	return out
}
