package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	cfg "github.com/maastricht-university/affect-pipeline/config"
	"github.com/maastricht-university/affect-pipeline/rules"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app is the state shared by every command, filled in before a command runs.
type app struct {
	cfgPath string
	cfg     *cfg.Root
	log     *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:               "affectd",
		Short:             "Multi-signal affect inference pipeline",
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "config file (default: config/$CONFIG_ENV/config.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("store", "affect.db", "history cache (SQLite)")
	pf.String("lexicon", "", "tone lexicon YAML, hot-reloaded by serve")

	root.AddCommand(a.newServeCmd())
	root.AddCommand(a.newAnalyzeCmd())
	root.AddCommand(a.newTextCmd())
	root.AddCommand(a.newStatsCmd())
	return root
}

// setup loads the config, applies environment and flag overrides and builds
// the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	var err error
	if a.cfgPath != "" {
		a.cfg, err = cfg.LoadFile(a.cfgPath)
	} else if a.cfg, err = cfg.Load(); errors.Is(err, fs.ErrNotExist) {
		a.cfg, err = cfg.Default(), nil
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	v, err := cfg.NewViper(cmd.Flags())
	if err != nil {
		return err
	}
	cfg.Overlay(a.cfg, v)
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	a.log, err = newLogger(a.cfg.Pipeline.LogLvl)
	if err != nil {
		return err
	}
	a.log.SetOutput(cmd.ErrOrStderr())
	return nil
}

func newLogger(level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	log := logrus.New()
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log, nil
}

// textScorer builds the text scorer from the configured lexicon, or the
// built-in one.
func (a *app) textScorer() (*rules.TextScorer, error) {
	lex := rules.NewDefaultLexicon()
	if path := a.cfg.Rules.LexiconPath; path != "" {
		var err error
		if lex, err = rules.LoadLexicon(path); err != nil {
			return nil, err
		}
		a.log.WithField("path", path).Info("lexicon loaded")
	}
	return rules.NewTextScorer(lex, a.cfg.Channels.Text.Bounds()), nil
}
