package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kubev2v/ids-validator/internal/config"
	"github.com/kubev2v/ids-validator/internal/ids"
	"github.com/kubev2v/ids-validator/internal/opa"
	"github.com/kubev2v/ids-validator/internal/report"
	"github.com/kubev2v/ids-validator/internal/report/types"
	"github.com/kubev2v/ids-validator/internal/validation"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

type EngineOptions struct {
	Chunk       int
	OpaWorkers  int
	PoliciesDir string
}

func DefaultEngineOptions() EngineOptions {
	o := EngineOptions{Chunk: validation.DefaultChunkSize}
	if cfg, err := config.New(); err == nil {
		o.Chunk = cfg.Validation.ChunkSize
		o.OpaWorkers = cfg.Validation.OpaWorkers
		o.PoliciesDir = cfg.Validation.PoliciesDir
	}
	return o
}

func (o *EngineOptions) Bind(fs *pflag.FlagSet) {
	fs.IntVar(&o.Chunk, "chunk", o.Chunk, "Number of elements validated per chunk.")
	fs.IntVar(&o.OpaWorkers, "opa-workers", o.OpaWorkers, "Elements evaluated concurrently within a chunk. 0 uses one per CPU.")
	fs.StringVar(&o.PoliciesDir, "policies-dir", o.PoliciesDir, "Directory with Rego policies replacing the built-in IDS policy.")
}

func (o *EngineOptions) Validate() error {
	if o.Chunk < 1 {
		return fmt.Errorf("chunk size must be positive")
	}
	if o.OpaWorkers < 0 {
		return fmt.Errorf("opa workers must not be negative")
	}
	return nil
}

// Engine builds the validation engine backed by the OPA validator.
func (o *EngineOptions) Engine() (*validation.Engine, error) {
	var (
		validator *opa.Validator
		err       error
	)
	if o.PoliciesDir != "" {
		validator, err = opa.NewValidatorFromDir(o.PoliciesDir, opa.WithWorkers(o.OpaWorkers))
	} else {
		validator, err = opa.NewValidator(opa.WithWorkers(o.OpaWorkers))
	}
	if err != nil {
		return nil, err
	}
	return validation.NewEngine(ids.CompilerFunc(ids.Compile), validator, validation.WithChunkSize(o.Chunk)), nil
}

type ValidateOptions struct {
	PoolOptions
	EngineOptions

	IdsFile      string
	ElementsFile string
	Output       string
	Format       string
}

func DefaultValidateOptions() *ValidateOptions {
	o := &ValidateOptions{
		PoolOptions:   DefaultPoolOptions(),
		EngineOptions: DefaultEngineOptions(),
		Format:        string(types.ReportFormatCSV),
	}
	if cfg, err := config.New(); err == nil {
		o.Format = cfg.Validation.ReportFormat
	}
	return o
}

func NewCmdValidate() *cobra.Command {
	o := DefaultValidateOptions()
	cmd := &cobra.Command{
		Use:     "validate --ids FILE -e FILE [FLAGS]",
		Short:   "Validate elements against an IDS document and write a report.",
		Example: "validate --ids walls.ids -e raw.json -o report.xlsx --format xlsx",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *ValidateOptions) Bind(fs *pflag.FlagSet) {
	o.PoolOptions.Bind(fs)
	o.EngineOptions.Bind(fs)

	fs.StringVar(&o.IdsFile, "ids", o.IdsFile, "IDS document.")
	fs.StringVarP(&o.ElementsFile, "elements", "e", o.ElementsFile, "Raw element records, JSON or YAML. Use - for stdin.")
	fs.StringVarP(&o.Output, "output", "o", o.Output, "Report file. Defaults to stdout.")
	fs.StringVar(&o.Format, "format", o.Format, fmt.Sprintf("Report format. One of: (%s).", strings.Join(types.SupportedFormats, ", ")))
}

func (o *ValidateOptions) Validate(args []string) error {
	if o.IdsFile == "" {
		return fmt.Errorf("ids document is required")
	}
	if o.ElementsFile == "" {
		return fmt.Errorf("elements file is required")
	}
	if !funk.Contains(types.SupportedFormats, o.Format) {
		return fmt.Errorf("report format must be one of %s", strings.Join(types.SupportedFormats, ", "))
	}
	if err := o.PoolOptions.Validate(); err != nil {
		return err
	}
	return o.EngineOptions.Validate()
}

func (o *ValidateOptions) Run(ctx context.Context, args []string) error {
	doc, err := readInput(o.IdsFile)
	if err != nil {
		return err
	}
	records, err := readRecords(o.ElementsFile)
	if err != nil {
		return err
	}

	renderer, err := report.NewRenderer(types.ReportFormat(o.Format))
	if err != nil {
		return err
	}

	processed, err := o.Extract(ctx, records)
	if err != nil {
		return err
	}
	elements := validation.NewElements(processed)

	engine, err := o.Engine()
	if err != nil {
		return err
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	result, err := runEngine(ctx, engine, validation.Request{
		Type:     validation.RequestValidate,
		IdsXML:   string(doc),
		Elements: elements,
		Chunk:    o.Chunk,
	}, interrupts)
	if err != nil {
		return err
	}

	out, err := openOutput(o.Output)
	if err != nil {
		return err
	}
	return writeOutput(out, func(w io.Writer) error {
		if err := renderer.Render(w, report.NewReportData(result, len(elements), time.Now())); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		return nil
	})
}

// runEngine drives one run through the engine message loop. A signal on
// interrupts is forwarded as a cancel request.
func runEngine(ctx context.Context, engine *validation.Engine, req validation.Request, interrupts <-chan os.Signal) (*validation.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := make(chan validation.Request)
	out := make(chan validation.Event, 64)
	served := make(chan error, 1)
	go func() {
		served <- engine.Serve(ctx, in, out)
	}()
	defer func() {
		close(in)
		<-served
	}()

	send := func(r validation.Request) error {
		select {
		case in <- r:
			return nil
		case err := <-served:
			served <- err
			return fmt.Errorf("engine stopped: %w", err)
		}
	}
	if err := send(req); err != nil {
		return nil, err
	}

	logger := zap.S().Named("validation")
	var result *validation.Result
	for {
		select {
		case <-interrupts:
			logger.Info("interrupt received, cancelling validation")
			if err := send(validation.Request{Type: validation.RequestCancel}); err != nil {
				return nil, err
			}
		case err := <-served:
			served <- err
			return nil, fmt.Errorf("engine stopped: %w", err)
		case ev := <-out:
			switch ev.Type {
			case validation.EventPhase:
				logger.Debugw("phase", "run_id", ev.RunID, "label", ev.Label)
				if ev.Label == validation.PhaseIdle && result != nil {
					return result, nil
				}
			case validation.EventProgress:
				logger.Infow("validation progress", "run_id", ev.RunID, "done", ev.Done, "total", ev.Total)
			case validation.EventDone:
				result = &validation.Result{RunID: ev.RunID, Rules: ev.Rules, Rows: ev.Rows}
			case validation.EventError:
				return nil, ev.Err()
			}
		}
	}
}
