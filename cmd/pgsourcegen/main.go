// Command pgsourcegen starts a disposable PostgreSQL container, applies a
// Liquibase changelog to it and generates Go table types and data access
// objects from the migrated schema.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/andrewkroh/pgsourcegen/internal/generator"
	"github.com/andrewkroh/pgsourcegen/internal/orchestrator"
)

func main() {
	var (
		configFile string
		contexts   string
		generate   string
		logLevel   string
		changelog  string
	)
	cfg := orchestrator.DefaultConfig()

	flag.StringVar(&configFile, "config", "", "Path to a YAML config file (optional); flags override its values")
	flag.StringVar(&cfg.PackageName, "package", "", "Dotted package name of the generated code, e.g. com.example.db (required)")
	flag.StringVar(&cfg.Schema, "schema", "", "Database name used for the migration (required)")
	flag.StringVar(&changelog, "liquibase-changelog-file", "", "Path to the root Liquibase changelog (required)")
	flag.StringVar(&changelog, "changelog", "", "Alias for -liquibase-changelog-file")
	flag.StringVar(&cfg.ProjectDir, "project-dir", cfg.ProjectDir, "Project directory receiving target/generated-sources/jooq")
	flag.StringVar(&cfg.BuildFile, "build-file", "", "Build descriptor to register the source root in (default: <project-dir>/pgsourcegen.build.yml)")
	flag.StringVar(&cfg.AugmentFile, "augment", "", "Path to augment.yml (optional)")
	flag.StringVar(&contexts, "contexts", strings.Join(cfg.Contexts, ","), "Comma separated changelog contexts, empty for none")
	flag.StringVar(&generate, "generate", "pojos,records,daos", "Comma separated artifacts to generate")
	flag.StringVar(&cfg.Image, "image", cfg.Image, "PostgreSQL container image")
	flag.StringVar(&cfg.Platform, "platform", "", "Image platform, e.g. linux/amd64 (optional)")
	flag.DurationVar(&cfg.StartupTimeout, "startup-timeout", cfg.StartupTimeout, "How long to wait for the database to accept connections")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid -log-level: %v\n", err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if configFile != "" {
		fileCfg, err := orchestrator.LoadConfig(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		cfg = overrideFromFlags(fileCfg, cfg)
	}

	set := setFlags()
	if set["liquibase-changelog-file"] || set["changelog"] || configFile == "" {
		cfg.ChangelogPath = changelog
	}
	if set["contexts"] || configFile == "" {
		cfg.Contexts = parseContexts(contexts)
	}
	if set["generate"] || configFile == "" {
		artifacts, err := parseArtifacts(generate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(2)
		}
		cfg.Generate = artifacts
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := orchestrator.New(logger).Run(ctx, cfg)
	if err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("done", "package_dir", res.PackageDir, "files", len(res.Files), "changesets", res.ChangeSets)
}

// overrideFromFlags returns base with the simple flag-backed fields of
// flags copied over for every flag set on the command line.
func overrideFromFlags(base, flags orchestrator.Config) orchestrator.Config {
	set := setFlags()
	if set["package"] {
		base.PackageName = flags.PackageName
	}
	if set["schema"] {
		base.Schema = flags.Schema
	}
	if set["project-dir"] {
		base.ProjectDir = flags.ProjectDir
	}
	if set["build-file"] {
		base.BuildFile = flags.BuildFile
	}
	if set["augment"] {
		base.AugmentFile = flags.AugmentFile
	}
	if set["image"] {
		base.Image = flags.Image
	}
	if set["platform"] {
		base.Platform = flags.Platform
	}
	if set["startup-timeout"] {
		base.StartupTimeout = flags.StartupTimeout
	}
	return base
}

func setFlags() map[string]bool {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// parseContexts splits a -contexts value. An empty value yields an empty,
// non-nil list so that no runtime contexts are applied.
func parseContexts(s string) []string {
	return append([]string{}, splitList(s)...)
}

func parseArtifacts(s string) (generator.Artifacts, error) {
	var a generator.Artifacts
	for _, v := range splitList(s) {
		switch strings.ToLower(v) {
		case "pojos":
			a.POJOs = true
		case "records":
			a.Records = true
		case "daos":
			a.DAOs = true
		default:
			return a, fmt.Errorf("unknown artifact %q in -generate (want pojos, records or daos)", v)
		}
	}
	return a, nil
}
