package validation_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/ids-validator/internal/extract"
	"github.com/kubev2v/ids-validator/internal/ids"
	"github.com/kubev2v/ids-validator/internal/validation"
)

var _ = Describe("Engine", func() {
	var (
		validator *verdictValidator
		rec       *recorder
	)

	BeforeEach(func() {
		validator = &verdictValidator{}
		rec = &recorder{}
	})

	It("validates 450 elements against 2 rules in chunks of 200", func() {
		engine := validation.NewEngine(staticCompiler(2), validator)

		result, err := engine.Validate(context.TODO(), doc, elements(450), 200, rec.sink)
		Expect(err).To(BeNil())

		Expect(validator.calls()).To(Equal([]int{200, 200, 50}))
		Expect(result.Rules).To(HaveLen(2))
		Expect(result.Rules[0].ID).To(Equal("R1"))
		Expect(result.Rules[1].ID).To(Equal("R2"))
		Expect(result.Rows).To(HaveLen(900))
		Expect(result.RunID).NotTo(BeEmpty())

		events := rec.all()
		Expect(progressOf(events)).To(Equal([]int{0, 200, 400, 450}))
		Expect(phasesOf(events)).To(Equal([]validation.Phase{
			validation.PhaseCompiling,
			validation.PhaseValidating,
			validation.PhaseFinalizing,
			validation.PhaseIdle,
		}))

		types := typesOf(events)
		Expect(types[len(types)-2]).To(Equal(validation.EventDone))
		Expect(types[len(types)-1]).To(Equal(validation.EventPhase))
		for _, ev := range events {
			Expect(ev.RunID).To(Equal(result.RunID))
			if ev.Type == validation.EventProgress {
				Expect(ev.Total).To(Equal(450))
			}
		}
		Expect(engine.Phase()).To(Equal(validation.PhaseIdle))
	})

	DescribeTable("covers every element once for any chunk size",
		func(total, chunk int) {
			engine := validation.NewEngine(staticCompiler(1), validator)
			result, err := engine.Validate(context.TODO(), doc, elements(total), chunk, rec.sink)
			Expect(err).To(BeNil())

			done := progressOf(rec.all())
			Expect(done[0]).To(Equal(0))
			Expect(done[len(done)-1]).To(Equal(total))
			for i := 1; i < len(done); i++ {
				Expect(done[i]).To(BeNumerically(">=", done[i-1]))
			}

			r := result.Rules[0]
			Expect(len(r.Passed) + len(r.Failed) + len(r.NA)).To(Equal(total))
			Expect(result.Rows).To(HaveLen(total))
			for i, row := range result.Rows {
				Expect(row.ElementID).To(Equal(fmt.Sprintf("e-%d", i)))
			}
		},
		Entry("chunk divides total", 10, 5),
		Entry("chunk does not divide total", 10, 3),
		Entry("chunk equals total", 10, 10),
		Entry("chunk larger than total", 10, 11),
		Entry("single element", 1, 1),
		Entry("chunk of one", 7, 1),
	)

	It("uses the default chunk size when none is given", func() {
		engine := validation.NewEngine(staticCompiler(1), validator, validation.WithChunkSize(4))
		_, err := engine.Validate(context.TODO(), doc, elements(10), 0, nil)
		Expect(err).To(BeNil())
		Expect(validator.calls()).To(Equal([]int{4, 4, 2}))
	})

	It("emits done with no elements", func() {
		engine := validation.NewEngine(staticCompiler(1), validator)
		result, err := engine.Validate(context.TODO(), doc, nil, 200, rec.sink)
		Expect(err).To(BeNil())
		Expect(result.Rows).To(BeEmpty())
		Expect(progressOf(rec.all())).To(Equal([]int{0}))
	})

	Context("setup errors", func() {
		It("rejects an empty document without events", func() {
			engine := validation.NewEngine(staticCompiler(1), validator)
			for _, d := range []string{"", "  \n\t "} {
				result, err := engine.Validate(context.TODO(), d, elements(3), 200, rec.sink)
				Expect(result).To(BeNil())
				Expect(err).To(MatchError(validation.ErrEmptyInput))
				Expect(validation.KindOf(err)).To(Equal(validation.KindEmptyInput))
			}
			Expect(rec.all()).To(BeEmpty())
		})

		It("rejects malformed XML before compiling", func() {
			compiled := false
			compiler := ids.CompilerFunc(func(ctx context.Context, doc string) ([]ids.Specification, error) {
				compiled = true
				return nil, nil
			})
			engine := validation.NewEngine(compiler, validator)

			_, err := engine.Validate(context.TODO(), "<ids><specifications>", elements(3), 200, rec.sink)
			Expect(validation.KindOf(err)).To(Equal(validation.KindMalformedSpecification))
			Expect(err.Error()).To(HavePrefix("malformed specification"))
			Expect(compiled).To(BeFalse())
			Expect(phasesOf(rec.all())).To(Equal([]validation.Phase{validation.PhaseCompiling}))
			Expect(progressOf(rec.all())).To(BeEmpty())
			Expect(engine.Phase()).To(Equal(validation.PhaseIdle))
		})

		It("reports compiler failures as malformed specifications", func() {
			compiler := ids.CompilerFunc(func(ctx context.Context, doc string) ([]ids.Specification, error) {
				return nil, errors.New("bad facet")
			})
			engine := validation.NewEngine(compiler, validator)

			_, err := engine.Validate(context.TODO(), doc, elements(3), 200, rec.sink)
			Expect(validation.KindOf(err)).To(Equal(validation.KindMalformedSpecification))
			Expect(err.Error()).To(ContainSubstring("bad facet"))
		})

		It("fails when no specification compiles", func() {
			engine := validation.NewEngine(staticCompiler(0), validator)

			result, err := engine.Validate(context.TODO(), doc, elements(3), 200, rec.sink)
			Expect(result).To(BeNil())
			Expect(validation.KindOf(err)).To(Equal(validation.KindNoSpecifications))
			Expect(err.Error()).To(Equal("no valid specifications found"))
			Expect(progressOf(rec.all())).To(BeEmpty())
			Expect(validator.calls()).To(BeEmpty())
		})
	})

	Context("cancellation", func() {
		It("stops before the first chunk", func() {
			engine := validation.NewEngine(staticCompiler(2), validator)
			sink := func(ev validation.Event) {
				rec.sink(ev)
				if ev.Type == validation.EventProgress && ev.Done == 0 {
					engine.Cancel()
				}
			}

			result, err := engine.Validate(context.TODO(), doc, elements(450), 200, sink)
			Expect(result).To(BeNil())
			Expect(validation.IsCancelled(err)).To(BeTrue())
			Expect(validator.calls()).To(BeEmpty())
			Expect(progressOf(rec.all())).To(Equal([]int{0}))
			Expect(typesOf(rec.all())).NotTo(ContainElement(validation.EventDone))
		})

		It("stops at the next chunk boundary", func() {
			engine := validation.NewEngine(staticCompiler(1), validator)
			sink := func(ev validation.Event) {
				rec.sink(ev)
				if ev.Type == validation.EventProgress && ev.Done == 200 {
					engine.Cancel()
				}
			}

			_, err := engine.Validate(context.TODO(), doc, elements(450), 200, sink)
			Expect(validation.IsCancelled(err)).To(BeTrue())
			Expect(validator.calls()).To(Equal([]int{200}))
			Expect(progressOf(rec.all())).To(Equal([]int{0, 200}))
		})

		It("ignores cancel without an active run", func() {
			engine := validation.NewEngine(staticCompiler(1), validator)
			engine.Cancel()

			_, err := engine.Validate(context.TODO(), doc, elements(5), 2, nil)
			Expect(err).To(BeNil())
		})

		It("does not carry a cancellation over to the next run", func() {
			engine := validation.NewEngine(staticCompiler(1), validator)
			first := true
			sink := func(ev validation.Event) {
				if first && ev.Type == validation.EventProgress {
					first = false
					engine.Cancel()
				}
			}
			_, err := engine.Validate(context.TODO(), doc, elements(5), 2, sink)
			Expect(validation.IsCancelled(err)).To(BeTrue())

			_, err = engine.Validate(context.TODO(), doc, elements(5), 2, nil)
			Expect(err).To(BeNil())
		})

		It("treats a cancelled context as a cancellation", func() {
			ctx, cancel := context.WithCancel(context.Background())
			engine := validation.NewEngine(staticCompiler(1), validation.ChunkValidatorFunc(
				func(c context.Context, specs []ids.Specification, els []validation.Element) (*validation.ChunkResult, error) {
					cancel()
					return validator.ValidateChunk(c, specs, els)
				}))

			_, err := engine.Validate(ctx, doc, elements(10), 5, nil)
			Expect(validation.IsCancelled(err)).To(BeTrue())
			Expect(validation.IsCancelled(nil)).To(BeFalse())
		})
	})

	It("fails the whole run when a chunk fails", func() {
		calls := 0
		engine := validation.NewEngine(staticCompiler(1), validation.ChunkValidatorFunc(
			func(ctx context.Context, specs []ids.Specification, els []validation.Element) (*validation.ChunkResult, error) {
				calls++
				if calls == 2 {
					return nil, errors.New("evaluation error")
				}
				return validator.ValidateChunk(ctx, specs, els)
			}))

		result, err := engine.Validate(context.TODO(), doc, elements(10), 3, rec.sink)
		Expect(result).To(BeNil())
		Expect(validation.KindOf(err)).To(Equal(validation.KindFailed))
		Expect(err.Error()).To(ContainSubstring("evaluation error"))
		Expect(typesOf(rec.all())).NotTo(ContainElement(validation.EventDone))
	})

	It("allows a single active run", func() {
		release := make(chan struct{})
		entered := make(chan struct{})
		engine := validation.NewEngine(staticCompiler(1), validation.ChunkValidatorFunc(
			func(ctx context.Context, specs []ids.Specification, els []validation.Element) (*validation.ChunkResult, error) {
				close(entered)
				<-release
				return &validation.ChunkResult{}, nil
			}))

		errCh := make(chan error, 1)
		go func() {
			_, err := engine.Validate(context.TODO(), doc, elements(1), 1, nil)
			errCh <- err
		}()

		Eventually(entered).Should(BeClosed())
		Expect(engine.Phase()).To(Equal(validation.PhaseValidating))
		id, active := engine.Active()
		Expect(active).To(BeTrue())
		Expect(id).NotTo(BeEmpty())

		_, err := engine.Validate(context.TODO(), doc, elements(1), 1, nil)
		Expect(err).To(MatchError(validation.ErrRunActive))

		close(release)
		Eventually(errCh).Should(Receive(BeNil()))
		_, active = engine.Active()
		Expect(active).To(BeFalse())
	})
})

var _ = Describe("NewElement", func() {
	It("uses the global id as element id", func() {
		el := validation.NewElement(extract.ProcessedElement{ModelID: "m", LocalID: 4, GlobalID: "3cUkl32yn9qRSPvBJVyWYp", IfcClass: "IFCWALL"})
		Expect(el.ID).To(Equal("3cUkl32yn9qRSPvBJVyWYp"))
		Expect(el.IfcClass).To(Equal("IFCWALL"))
	})

	It("falls back to model and local id", func() {
		els := validation.NewElements([]extract.ProcessedElement{{ModelID: "m", LocalID: 4}})
		Expect(els).To(HaveLen(1))
		Expect(els[0].ID).To(Equal("m:4"))
	})
})

var _ = Describe("Event", func() {
	DescribeTable("encodes only the fields of its type",
		func(ev validation.Event, expected string) {
			data, err := json.Marshal(ev)
			Expect(err).To(BeNil())
			Expect(data).To(MatchJSON(expected))
		},
		Entry("phase",
			validation.Event{Type: validation.EventPhase, RunID: "r", Label: validation.PhaseCompiling, Done: 3},
			`{"type":"phase","runId":"r","label":"compiling"}`),
		Entry("progress",
			validation.Event{Type: validation.EventProgress, Done: 1, Total: 2},
			`{"type":"progress","done":1,"total":2}`),
		Entry("done",
			validation.Event{Type: validation.EventDone, Rules: []validation.RuleResult{{ID: "R1", Passed: []string{"a"}, Failed: []string{}, NA: []string{}}}, Rows: []validation.DetailRow{}},
			`{"type":"done","rules":[{"id":"R1","title":"","passed":["a"],"failed":[],"na":[]}],"rows":[]}`),
		Entry("error",
			validation.NewErrorEvent("r", validation.NewNoSpecificationsError()),
			`{"type":"error","runId":"r","message":"no valid specifications found","kind":"no_specifications"}`),
	)
})
