package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zsiec/rewind/internal/config"
)

var version = "dev"

func main() {
	root := newRootCmd(afero.NewOsFs(), os.Stdin, os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rewind:", err)
		os.Exit(1)
	}
}

// app is the state shared by the subcommands of one invocation.
type app struct {
	fs     afero.Fs
	v      *viper.Viper
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfgPath string
	cfg     *config.Config
	log     *slog.Logger
}

func newRootCmd(fs afero.Fs, stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{fs: fs, v: viper.New(), stdin: stdin, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "rewind",
		Short:         "Play MPEG-TS files and SRT streams forward and backward",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgPath, "config", "c", "", "config file (default ./rewind.toml or ~/.config/rewind/rewind.toml)")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	lo.Must0(a.v.BindPFlag("log.level", flags.Lookup("log-level")))
	flags.String("log-format", "", "log format: text or json")
	lo.Must0(a.v.BindPFlag("log.format", flags.Lookup("log-format")))

	root.AddCommand(
		newPlayCmd(a),
		newProbeCmd(a),
		newGenCmd(a),
		newPushCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup loads the configuration and installs the logger. It runs before
// every subcommand, after flags are parsed.
func (a *app) setup() error {
	config.Setup(a.v, a.fs, a.cfgPath)
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	log, err := newLogger(a.stderr, cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	slog.SetDefault(log)
	if used := a.v.ConfigFileUsed(); used != "" {
		log.Debug("config loaded", "file", used)
	}
	return nil
}

func newLogger(w io.Writer, lc config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(lc.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("log.format %q, want text or json", lc.Format)
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(a.stdout, "rewind", version)
		},
	}
}
