package cli

import (
	"github.com/kubev2v/ids-validator/internal/config"
	"github.com/kubev2v/ids-validator/pkg/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type GlobalOptions struct {
	LogLevel string
}

func DefaultGlobalOptions() *GlobalOptions {
	o := &GlobalOptions{LogLevel: "info"}
	if cfg, err := config.New(); err == nil {
		o.LogLevel = cfg.Service.LogLevel
	}
	return o
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level. One of: debug, info, warn, error.")
}

// Complete installs the global zap logger. It is meant to run as the root
// command's PersistentPreRunE.
func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	logger := log.InitLog(log.ParseLevel(o.LogLevel))
	zap.ReplaceGlobals(logger)
	cobra.OnFinalize(func() { _ = logger.Sync() })
	return nil
}
