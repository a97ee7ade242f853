package main

import (
	"github.com/netdivert/divert"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type app struct {
	v       *viper.Viper
	cfgFile string

	cfg *Config
	log logrus.FieldLogger
}

func newRootCmd() *cobra.Command {
	a := &app{v: newViper()}

	cmd := &cobra.Command{
		Use:   "divertdump",
		Short: "Capture and inspect packets diverted by WinDivert",
		Long: `divertdump opens a WinDivert handle with a filter, receives packets in
batches and prints one line per packet with its address metadata.

Settings are read from flags, DIVERTDUMP_* environment variables and an
optional YAML config file, in that order of precedence.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file path")
	pf.String("dll", "", "path of WinDivert.dll")
	pf.String("log-level", "info", "log level")
	pf.String("log-format", "text", "log format, text or json")

	cmd.AddCommand(a.captureCmd(), a.compileCmd())
	return cmd
}

// flagKeys maps command line flags to config keys. Only the flags of the
// command being run are bound, capture and compile share names.
var flagKeys = map[string]string{
	"dll":          "dll",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"filter":       "capture.filter",
	"layer":        "capture.layer",
	"priority":     "capture.priority",
	"batch":        "capture.batch",
	"count":        "capture.count",
	"sniff":        "capture.sniff",
	"queue-length": "capture.queue_length",
}

func (a *app) bind(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			if err := a.v.BindPFlag(key, f); err != nil {
				return errors.WithStack(err)
			}
		}
	}
	return nil
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	if err := a.bind(cmd.Flags()); err != nil {
		return err
	}
	cfg, err := loadConfig(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = cfg.Log.newLogger()
	divert.SetLogger(a.log)

	if cfg.DLL != "" {
		if err := divert.SetDLL(cfg.DLL); err != nil {
			return errors.WithMessagef(err, "load %s", cfg.DLL)
		}
	}
	a.log.WithField("config", a.v.ConfigFileUsed()).Debug("divertdump: configured")
	return nil
}
