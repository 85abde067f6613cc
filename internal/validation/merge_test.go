package validation_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/ids-validator/internal/validation"
)

var _ = Describe("Merge", func() {
	It("appends only new ids and keeps the target order", func() {
		target := validation.RuleResult{ID: "R1", Passed: []string{"b", "a"}}
		validation.Merge(&target, validation.RuleResult{ID: "R1", Passed: []string{"a", "c"}, Failed: []string{"d"}})

		Expect(target.Passed).To(Equal([]string{"b", "a", "c"}))
		Expect(target.Failed).To(Equal([]string{"d"}))
		Expect(target.NA).To(BeEmpty())
	})

	It("is idempotent", func() {
		incoming := validation.RuleResult{ID: "R1", Passed: []string{"a"}, Failed: []string{"b", "c"}, NA: []string{"d"}}
		target := validation.RuleResult{ID: "R1"}

		validation.Merge(&target, incoming)
		once := target
		once.Passed = append([]string{}, target.Passed...)
		once.Failed = append([]string{}, target.Failed...)
		once.NA = append([]string{}, target.NA...)

		validation.Merge(&target, incoming)
		validation.Merge(&target, incoming)
		Expect(target).To(Equal(once))
	})

	It("ignores duplicates inside a single incoming result", func() {
		target := validation.RuleResult{ID: "R1"}
		validation.Merge(&target, validation.RuleResult{ID: "R1", NA: []string{"x", "x"}})
		Expect(target.NA).To(Equal([]string{"x"}))
	})

	It("is commutative for disjoint inputs", func() {
		a := validation.RuleResult{ID: "R1", Passed: []string{"1", "2"}, Failed: []string{"3"}}
		b := validation.RuleResult{ID: "R1", Passed: []string{"4"}, NA: []string{"5"}}

		ab := validation.RuleResult{ID: "R1"}
		validation.Merge(&ab, a)
		validation.Merge(&ab, b)

		ba := validation.RuleResult{ID: "R1"}
		validation.Merge(&ba, b)
		validation.Merge(&ba, a)

		Expect(ab.Passed).To(ConsistOf(ba.Passed))
		Expect(ab.Failed).To(ConsistOf(ba.Failed))
		Expect(ab.NA).To(ConsistOf(ba.NA))
	})
})

var _ = Describe("Aggregate", func() {
	It("keys results by rule id in first-seen order", func() {
		agg := validation.NewAggregate()
		agg.Add(validation.RuleResult{ID: "R2", Title: "second", Passed: []string{"a"}})
		agg.Add(validation.RuleResult{ID: "R1", Title: "first", Failed: []string{"a"}})
		agg.Add(validation.RuleResult{ID: "R2", Title: "ignored", Passed: []string{"b", "a"}})

		rules := agg.Rules()
		Expect(agg.Len()).To(Equal(2))
		Expect(rules[0].ID).To(Equal("R2"))
		Expect(rules[0].Title).To(Equal("second"))
		Expect(rules[0].Passed).To(Equal([]string{"a", "b"}))
		Expect(rules[1].ID).To(Equal("R1"))
		Expect(rules[1].Passed).NotTo(BeNil())
		Expect(rules[1].Passed).To(BeEmpty())
	})

	It("keeps verdict sets disjoint across chunk partitions", func() {
		agg := validation.NewAggregate()
		for chunk := 0; chunk < 5; chunk++ {
			rule := validation.RuleResult{ID: "R1"}
			for i := chunk * 4; i < chunk*4+4; i++ {
				id := string(rune('a' + i))
				switch i % 3 {
				case 0:
					rule.Passed = append(rule.Passed, id)
				case 1:
					rule.Failed = append(rule.Failed, id)
				default:
					rule.NA = append(rule.NA, id)
				}
			}
			agg.Add(rule)
		}

		r := agg.Rules()[0]
		seen := map[string]int{}
		for _, set := range [][]string{r.Passed, r.Failed, r.NA} {
			for _, id := range set {
				seen[id]++
			}
		}
		Expect(seen).To(HaveLen(20))
		for _, n := range seen {
			Expect(n).To(Equal(1))
		}
	})

	It("returns copies", func() {
		agg := validation.NewAggregate()
		agg.Add(validation.RuleResult{ID: "R1", Passed: []string{"a"}})
		rules := agg.Rules()
		rules[0].Passed[0] = "changed"
		Expect(agg.Rules()[0].Passed).To(Equal([]string{"a"}))
	})
})
