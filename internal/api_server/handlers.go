package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubev2v/ids-validator/internal/extract"
	"github.com/kubev2v/ids-validator/internal/pool"
	"github.com/kubev2v/ids-validator/internal/store"
	"github.com/kubev2v/ids-validator/internal/store/model"
	"github.com/kubev2v/ids-validator/internal/validation"
	"github.com/kubev2v/ids-validator/pkg/requestid"
)

const ndjsonContentType = "application/x-ndjson"

type handler struct {
	store     store.Store
	extractor Extractor
	engine    *validation.Engine
	validator *Validator
}

type ExtractRequest struct {
	Elements []extract.RawElementRecord `json:"elements" validate:"dive"`
}

type ExtractResponse struct {
	Elements []extract.ProcessedElement `json:"elements"`
}

type ValidateRequest struct {
	Ids      string                     `json:"ids"`
	Elements []extract.RawElementRecord `json:"elements" validate:"dive"`
	Chunk    int                        `json:"chunk,omitempty" validate:"gte=0"`
}

type ErrorResponse struct {
	Message   string               `json:"message"`
	Kind      validation.ErrorKind `json:"kind,omitempty"`
	RequestID string               `json:"requestId,omitempty"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status": "ok",
		"phase":  h.engine.Phase(),
	})
}

func (h *handler) extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.error(w, r, http.StatusBadRequest, "", err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.error(w, r, http.StatusBadRequest, "", err)
		return
	}

	processed, err := h.extractor.Process(r.Context(), req.Elements)
	if err != nil {
		h.error(w, r, extractStatus(err), "", err)
		return
	}

	render.JSON(w, r, ExtractResponse{Elements: processed})
}

// validate extracts the request elements and streams the engine events as
// NDJSON. Errors raised before the first event are answered with a plain
// status code; later errors end the stream with an error event.
func (h *handler) validate(w http.ResponseWriter, r *http.Request) {
	logger := zap.S().Named("api_server")

	var req ValidateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.error(w, r, http.StatusBadRequest, "", err)
		return
	}
	if strings.TrimSpace(req.Ids) == "" {
		h.error(w, r, http.StatusBadRequest, validation.KindEmptyInput, validation.ErrEmptyInput)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.error(w, r, http.StatusBadRequest, "", err)
		return
	}

	processed, err := h.extractor.Process(r.Context(), req.Elements)
	if err != nil {
		h.error(w, r, extractStatus(err), "", err)
		return
	}
	elements := validation.NewElements(processed)

	var run *model.Run
	enc := json.NewEncoder(w)
	write := func(ev validation.Event) {
		if err := enc.Encode(ev); err != nil {
			logger.Warnw("failed to write event", "run_id", ev.RunID, "error", err)
			return
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}

	sink := func(ev validation.Event) {
		if run == nil {
			run = h.startRun(r, ev.RunID, len(elements))
			w.Header().Set("Content-Type", ndjsonContentType)
			w.WriteHeader(http.StatusOK)
		}
		write(ev)
	}

	result, err := h.engine.Validate(r.Context(), req.Ids, elements, req.Chunk, sink)
	if err != nil && run == nil {
		h.error(w, r, validateStatus(err), validation.KindOf(err), err)
		return
	}
	if err != nil {
		write(validation.NewErrorEvent(run.ID.String(), err))
	}
	h.finishRun(r, run, result, err)
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	runID, active := h.engine.Active()
	h.engine.Cancel()

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]any{
		"active": active,
		"runId":  runID,
	})
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.NewRunQueryFilter()
	if status := r.URL.Query().Get("status"); status != "" {
		filter = filter.ByStatus(strings.Split(status, ",")...)
	}

	opts := store.NewRunQueryOptions().WithSortOrder(store.SortByCreatedTime)
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			h.error(w, r, http.StatusBadRequest, "", errors.New("limit must be a positive integer"))
			return
		}
		opts = opts.WithLimit(n)
	}

	runs, err := h.store.Run().List(r.Context(), filter, opts)
	if err != nil {
		h.error(w, r, http.StatusInternalServerError, "", err)
		return
	}
	if runs == nil {
		runs = model.RunList{}
	}
	render.JSON(w, r, runs)
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.error(w, r, http.StatusBadRequest, "", errors.New("invalid run id"))
		return
	}

	run, err := h.store.Run().Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			h.error(w, r, http.StatusNotFound, "", err)
			return
		}
		h.error(w, r, http.StatusInternalServerError, "", err)
		return
	}
	render.JSON(w, r, run)
}

// startRun records the run announced by the first event. A store failure is
// logged and the returned run is kept in memory only.
func (h *handler) startRun(r *http.Request, runID string, elements int) *model.Run {
	id, err := uuid.Parse(runID)
	if err != nil {
		id = uuid.New()
	}

	run := &model.Run{
		ID:        id,
		Status:    model.RunStatusRunning,
		RequestID: requestid.FromContextPtr(r.Context()),
		Elements:  elements,
	}
	created, err := h.store.Run().Create(r.Context(), *run)
	if err != nil {
		zap.S().Named("api_server").Errorw("failed to store run", "run_id", runID, "error", err)
		return run
	}
	return created
}

func (h *handler) finishRun(r *http.Request, run *model.Run, result *validation.Result, runErr error) {
	finished := time.Now()
	run.FinishedAt = &finished

	switch {
	case runErr == nil:
		run.Status = model.RunStatusCompleted
		run.Rules = len(result.Rules)
		for _, rule := range result.Rules {
			run.Passed += len(rule.Passed)
			run.Failed += len(rule.Failed)
			run.NotApplicable += len(rule.NA)
		}
	case validation.IsCancelled(runErr):
		run.Status = model.RunStatusCancelled
	default:
		run.Status = model.RunStatusFailed
		msg := runErr.Error()
		run.Error = &msg
	}

	// the outcome is stored even when the client went away
	ctx := context.WithoutCancel(r.Context())
	if _, err := h.store.Run().Update(ctx, *run); err != nil {
		zap.S().Named("api_server").Errorw("failed to update run", "run_id", run.ID, "error", err)
	}
}

func (h *handler) error(w http.ResponseWriter, r *http.Request, status int, kind validation.ErrorKind, err error) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{
		Message:   err.Error(),
		Kind:      kind,
		RequestID: requestid.FromRequest(r),
	})
}

func extractStatus(err error) int {
	var batchErr *pool.BatchProcessingError
	switch {
	case errors.As(err, &batchErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pool.ErrPoolTerminated), errors.Is(err, pool.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func validateStatus(err error) int {
	switch {
	case errors.Is(err, validation.ErrRunActive):
		return http.StatusConflict
	case validation.KindOf(err) == validation.KindEmptyInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
