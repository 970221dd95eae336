package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/specialistvlad/lazymod/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// varsFlag collects repeated -var name=value flags.
type varsFlag map[string]any

func (v varsFlag) String() string { return fmt.Sprint(map[string]any(v)) }

func (v varsFlag) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return errors.New("expected name=value")
	}
	v[name] = value
	return nil
}

// listFlag collects comma-separated values, possibly over several flags.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(s string) error {
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			*l = append(*l, item)
		}
	}
	return nil
}

// Parse processes command-line arguments. It returns a populated Config, a
// boolean indicating if the program should exit cleanly, or an ExitError.
// Flags override the values of the config file given with -config.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("lazymod", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
lazymod - A lazy module-loading runtime with coverage and usage statistics.

Usage:
  lazymod [options] [BUNDLE_PATH]

Arguments:
  BUNDLE_PATH
    Path to a single .hcl manifest or a directory containing .hcl manifests.

Options:
`)
		flagSet.PrintDefaults()
	}

	vars := varsFlag{}
	var preload listFlag
	configFlag := flagSet.String("config", "", "Path to a TOML config file.")
	bundleFlag := flagSet.String("bundle", "", "Path to the bundle manifest file or directory.")
	bFlag := flagSet.String("b", "", "Path to the bundle manifest file or directory (shorthand).")
	sourceFlag := flagSet.String("source", "", "Where off-package modules are fetched from: http(s) URL, ws(s) socket.io URL or directory.")
	namespaceFlag := flagSet.String("namespace", "/", "socket.io namespace for ws(s) sources.")
	insecureFlag := flagSet.Bool("insecure", false, "Skip TLS verification for socket.io sources.")
	cacheDirFlag := flagSet.String("cache-dir", "", "Directory for the module cache. Empty keeps it in memory.")
	timeoutFlag := flagSet.Duration("timeout", 3*time.Second, "Timeout of a single off-package fetch.")
	statusAddrFlag := flagSet.String("status-addr", "", "Listen address of the status server, e.g. ':8080'. Empty is disabled.")
	reportFlag := flagSet.Bool("report", false, "Print the statistics report once the bundle settled.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	flagSet.Var(vars, "var", "Manifest variable as name=value. Repeatable.")
	flagSet.Var(&preload, "preload", "Comma-separated modules to preload. Repeatable.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	cfg := app.Config{Timeout: *timeoutFlag, LogFormat: *logFormatFlag, LogLevel: *logLevelFlag, SocketNamespace: *namespaceFlag}
	if *configFlag != "" {
		fileCfg, err := app.LoadFile(*configFlag)
		if err != nil {
			return nil, false, &ExitError{Code: 2, Message: err.Error()}
		}
		cfg = merge(cfg, fileCfg)
	}

	set := map[string]bool{}
	flagSet.Visit(func(f *flag.Flag) { set[f.Name] = true })
	override := func(name string, apply func()) {
		if set[name] {
			apply()
		}
	}
	override("source", func() { cfg.Source = *sourceFlag })
	override("namespace", func() { cfg.SocketNamespace = *namespaceFlag })
	override("insecure", func() { cfg.InsecureSkipVerify = *insecureFlag })
	override("cache-dir", func() { cfg.CacheDir = *cacheDirFlag })
	override("timeout", func() { cfg.Timeout = *timeoutFlag })
	override("status-addr", func() { cfg.StatusAddr = *statusAddrFlag })
	override("report", func() { cfg.Report = *reportFlag })
	override("log-format", func() { cfg.LogFormat = *logFormatFlag })
	override("log-level", func() { cfg.LogLevel = *logLevelFlag })
	override("preload", func() { cfg.Preload = preload })
	for name, value := range vars {
		if cfg.Vars == nil {
			cfg.Vars = map[string]any{}
		}
		cfg.Vars[name] = value
	}

	switch {
	case *bundleFlag != "":
		cfg.BundlePath = *bundleFlag
	case *bFlag != "":
		cfg.BundlePath = *bFlag
	case flagSet.NArg() > 0:
		cfg.BundlePath = flagSet.Arg(0)
	}
	slog.Debug("Bundle path determined.", "path", cfg.BundlePath)

	if cfg.BundlePath == "" {
		slog.Debug("No bundle path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}

// merge lays the non-zero values of file over the flag defaults.
func merge(defaults, file app.Config) app.Config {
	out := file
	if out.Timeout == 0 {
		out.Timeout = defaults.Timeout
	}
	if out.LogFormat == "" {
		out.LogFormat = defaults.LogFormat
	}
	if out.LogLevel == "" {
		out.LogLevel = defaults.LogLevel
	}
	if out.SocketNamespace == "" {
		out.SocketNamespace = defaults.SocketNamespace
	}
	return out
}
