package validation_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/ids-validator/internal/ids"
	"github.com/kubev2v/ids-validator/internal/validation"
)

// collect reads events until one matches stop.
func collect(out <-chan validation.Event, stop func(validation.Event) bool) []validation.Event {
	var events []validation.Event
	for {
		select {
		case ev := <-out:
			events = append(events, ev)
			if stop(ev) {
				return events
			}
		case <-time.After(5 * time.Second):
			Fail("timed out waiting for events")
			return events
		}
	}
}

func isIdle(ev validation.Event) bool {
	return ev.Type == validation.EventPhase && ev.Label == validation.PhaseIdle
}

func isError(ev validation.Event) bool {
	return ev.Type == validation.EventError
}

var _ = Describe("Serve", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		in      chan validation.Request
		out     chan validation.Event
		served  chan error
		stopped chan struct{}
	)

	start := func(engine *validation.Engine) {
		ctx, in, out, served, stopped := ctx, in, out, served, stopped
		go func() {
			defer close(stopped)
			served <- engine.Serve(ctx, in, out)
		}()
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		in = make(chan validation.Request)
		out = make(chan validation.Event, 64)
		served = make(chan error, 1)
		stopped = make(chan struct{})
	})

	AfterEach(func() {
		cancel()
		Eventually(stopped, 5*time.Second).Should(BeClosed())
	})

	It("streams a run in order", func() {
		start(validation.NewEngine(staticCompiler(2), &verdictValidator{}))

		in <- validation.Request{Type: validation.RequestValidate, IdsXML: doc, Elements: elements(450), Chunk: 200}
		events := collect(out, isIdle)

		Expect(typesOf(events)).To(Equal([]validation.EventType{
			validation.EventPhase,
			validation.EventPhase,
			validation.EventProgress,
			validation.EventProgress,
			validation.EventProgress,
			validation.EventProgress,
			validation.EventPhase,
			validation.EventDone,
			validation.EventPhase,
		}))
		Expect(phasesOf(events)).To(Equal([]validation.Phase{
			validation.PhaseCompiling,
			validation.PhaseValidating,
			validation.PhaseFinalizing,
			validation.PhaseIdle,
		}))
		Expect(progressOf(events)).To(Equal([]int{0, 200, 400, 450}))
		Expect(events[7].Rules).To(HaveLen(2))

		// the engine accepts the next run right after idle
		in <- validation.Request{Type: validation.RequestValidate, IdsXML: doc, Elements: elements(3)}
		events = collect(out, isIdle)
		Expect(typesOf(events)).To(ContainElement(validation.EventDone))

		close(in)
		Eventually(served).Should(Receive(BeNil()))
	})

	It("delivers the final events of a run before the next run starts", func() {
		out = make(chan validation.Event)
		start(validation.NewEngine(staticCompiler(1), &verdictValidator{}))

		in <- validation.Request{Type: validation.RequestValidate, IdsXML: doc, Elements: elements(3)}
		first := collect(out, func(ev validation.Event) bool { return ev.Type == validation.EventDone })
		firstID := first[0].RunID

		// the first run is still announcing idle while the next request arrives
		in <- validation.Request{Type: validation.RequestValidate, IdsXML: doc, Elements: elements(2)}

		next := collect(out, isIdle)
		Expect(next).To(HaveLen(1))
		Expect(next[0].RunID).To(Equal(firstID))

		second := collect(out, isIdle)
		Expect(second[0].Type).To(Equal(validation.EventPhase))
		Expect(second[0].Label).To(Equal(validation.PhaseCompiling))
		Expect(second[0].RunID).NotTo(Equal(firstID))
		Expect(typesOf(second)).To(ContainElement(validation.EventDone))
		Expect(typesOf(second)).NotTo(ContainElement(validation.EventError))
		for _, ev := range second {
			Expect(ev.RunID).To(Equal(second[0].RunID))
		}
	})

	It("answers an empty document with an error event", func() {
		start(validation.NewEngine(staticCompiler(1), &verdictValidator{}))

		in <- validation.Request{Type: validation.RequestValidate, IdsXML: " "}
		events := collect(out, isError)
		Expect(events).To(HaveLen(1))
		Expect(events[0].Kind).To(Equal(validation.KindEmptyInput))
	})

	It("ends a failed run with an error event and no done", func() {
		start(validation.NewEngine(staticCompiler(0), &verdictValidator{}))

		in <- validation.Request{Type: validation.RequestValidate, IdsXML: doc, Elements: elements(3)}
		events := collect(out, isError)
		Expect(typesOf(events)).To(Equal([]validation.EventType{validation.EventPhase, validation.EventError}))
		Expect(events[1].Message).To(Equal("no valid specifications found"))
		Expect(events[1].RunID).To(Equal(events[0].RunID))
	})

	It("cancels the active run on a cancel request", func() {
		release := make(chan struct{})
		entered := make(chan struct{}, 1)
		validator := validation.ChunkValidatorFunc(func(c context.Context, specs []ids.Specification, els []validation.Element) (*validation.ChunkResult, error) {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-release
			return &validation.ChunkResult{}, nil
		})
		start(validation.NewEngine(staticCompiler(1), validator))

		in <- validation.Request{Type: validation.RequestValidate, IdsXML: doc, Elements: elements(10), Chunk: 2}
		Eventually(entered).Should(Receive())

		in <- validation.Request{Type: validation.RequestValidate, IdsXML: doc, Elements: elements(1)}
		in <- validation.Request{Type: validation.RequestCancel}
		// the loop handled the first cancel once it accepts the next request
		in <- validation.Request{Type: validation.RequestCancel}
		close(release)

		events := collect(out, func(ev validation.Event) bool {
			return isError(ev) && ev.Kind == validation.KindCancelled
		})

		var kinds []validation.ErrorKind
		for _, ev := range events {
			if isError(ev) {
				kinds = append(kinds, ev.Kind)
			}
		}
		Expect(kinds).To(Equal([]validation.ErrorKind{validation.KindFailed, validation.KindCancelled}))
		Expect(progressOf(events)).To(Equal([]int{0, 2}))
		Expect(typesOf(events)).NotTo(ContainElement(validation.EventDone))
	})

	It("stops when the context is done", func() {
		start(validation.NewEngine(staticCompiler(1), &verdictValidator{}))
		cancel()
		Eventually(served).Should(Receive(MatchError(context.Canceled)))
	})
})
