package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kubev2v/ids-validator/internal/config"
	"github.com/kubev2v/ids-validator/internal/extract"
	"github.com/kubev2v/ids-validator/internal/pool"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

type PoolOptions struct {
	Units     int
	BatchSize int
}

func DefaultPoolOptions() PoolOptions {
	o := PoolOptions{BatchSize: pool.DefaultBatchSize}
	if cfg, err := config.New(); err == nil {
		o.Units = cfg.Pool.Units
		o.BatchSize = cfg.Pool.BatchSize
	}
	return o
}

func (o *PoolOptions) Bind(fs *pflag.FlagSet) {
	fs.IntVar(&o.Units, "units", o.Units, "Number of extraction units. 0 uses one per spare CPU.")
	fs.IntVar(&o.BatchSize, "batch-size", o.BatchSize, "Number of elements per extraction batch.")
}

func (o *PoolOptions) Validate() error {
	if o.Units < 0 {
		return fmt.Errorf("units must not be negative")
	}
	if o.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive")
	}
	return nil
}

// Extract runs the records through a started pool and terminates it.
func (o *PoolOptions) Extract(ctx context.Context, records []extract.RawElementRecord) ([]extract.ProcessedElement, error) {
	opts := []pool.Option{pool.WithBatchSize(o.BatchSize)}
	if o.Units > 0 {
		opts = append(opts, pool.WithUnitCount(o.Units))
	}
	opts = append(opts, pool.WithProgress(func(done, total int) {
		zap.S().Named("extract").Debugw("extraction progress", "batches", done, "total", total)
	}))

	p := pool.New(opts...)
	defer p.Terminate()

	if err := p.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}

	processed, err := p.Process(ctx, records)
	if err != nil {
		return nil, err
	}

	stats := p.Stats()
	zap.S().Named("extract").Infow("extraction finished",
		"elements", len(records),
		"extracted", stats.Processed,
		"skipped", stats.Skipped,
		"units", stats.Units)
	return processed, nil
}

type ExtractOptions struct {
	PoolOptions

	Input  string
	Output string
	Format string
}

func DefaultExtractOptions() *ExtractOptions {
	return &ExtractOptions{
		PoolOptions: DefaultPoolOptions(),
		Format:      jsonFormat,
	}
}

func NewCmdExtract() *cobra.Command {
	o := DefaultExtractOptions()
	cmd := &cobra.Command{
		Use:     "extract -i FILE [FLAGS]",
		Short:   "Normalize raw element records into processed elements.",
		Example: "extract -i raw.json -o elements.json",
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

func (o *ExtractOptions) Bind(fs *pflag.FlagSet) {
	o.PoolOptions.Bind(fs)

	fs.StringVarP(&o.Input, "input", "i", o.Input, "Raw element records, JSON or YAML. Use - for stdin.")
	fs.StringVarP(&o.Output, "output", "o", o.Output, "Output file. Defaults to stdout.")
	fs.StringVarP(&o.Format, "format", "f", o.Format, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
}

func (o *ExtractOptions) Validate(args []string) error {
	if o.Input == "" {
		return fmt.Errorf("input file is required")
	}
	if !funk.Contains(legalOutputTypes, o.Format) {
		return fmt.Errorf("output format must be one of %s", strings.Join(legalOutputTypes, ", "))
	}
	return o.PoolOptions.Validate()
}

func (o *ExtractOptions) Run(ctx context.Context, args []string) error {
	records, err := readRecords(o.Input)
	if err != nil {
		return err
	}

	processed, err := o.Extract(ctx, records)
	if err != nil {
		return err
	}

	data, err := marshal(map[string]any{"elements": processed}, o.Format)
	if err != nil {
		return fmt.Errorf("marshalling elements: %w", err)
	}

	out, err := openOutput(o.Output)
	if err != nil {
		return err
	}
	return writeOutput(out, func(w io.Writer) error {
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("writing elements: %w", err)
		}
		return nil
	})
}
