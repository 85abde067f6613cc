package validation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Serve is the long-lived message loop of the engine. It reads requests
// from in and writes the events of every run to out until ctx is done or in
// is closed. A validate request received while a run is active is answered
// with an error event. Serve waits for the active run before returning.
func (e *Engine) Serve(ctx context.Context, in <-chan Request, out chan<- Event) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	send := func(ev Event) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}

	logger := zap.S().Named("validation")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-in:
			if !ok {
				return nil
			}

			switch req.Type {
			case RequestCancel:
				e.Cancel()
			case RequestValidate:
				if strings.TrimSpace(req.IdsXML) == "" {
					send(NewErrorEvent("", ErrEmptyInput))
					continue
				}
				rc, err := e.begin(send)
				if err != nil {
					send(NewErrorEvent("", err))
					continue
				}

				wg.Add(1)
				go func(req Request) {
					defer wg.Done()
					var final []Event
					if _, err := e.execute(ctx, rc, req.IdsXML, req.Elements, req.Chunk); err != nil {
						final = append(final, NewErrorEvent(rc.id, err))
					}
					e.end(rc, final...)
				}(req)
			default:
				logger.Warnw("unknown request", "type", req.Type)
				send(NewErrorEvent("", fmt.Errorf("unknown request type %q", req.Type)))
			}
		}
	}
}
