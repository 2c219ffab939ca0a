package orchestrator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andrewkroh/pgsourcegen/internal/build"
	"github.com/andrewkroh/pgsourcegen/internal/generator"
	"github.com/andrewkroh/pgsourcegen/internal/pgcontainer"
	"github.com/andrewkroh/pgsourcegen/internal/pgident"
)

// OutputDir is the directory, relative to the project directory, that
// receives the generated sources.
var OutputDir = filepath.Join("target", "generated-sources", "jooq")

// DefaultContexts are the changelog contexts applied when none are given.
var DefaultContexts = []string{"main"}

// Config holds the parameters of one run.
type Config struct {
	PackageName    string              `yaml:"package"`
	Schema         string              `yaml:"schema"`
	ChangelogPath  string              `yaml:"liquibase_changelog_file"`
	ProjectDir     string              `yaml:"project_dir"`
	BuildFile      string              `yaml:"build_file"`   // Defaults to <ProjectDir>/pgsourcegen.build.yml.
	AugmentFile    string              `yaml:"augment_file"` // Optional generator overrides.
	Contexts       []string            `yaml:"contexts"`     // Nil selects DefaultContexts.
	Generate       generator.Artifacts `yaml:"generate"`
	Image          string              `yaml:"image"`
	Platform       string              `yaml:"platform"`
	StartupTimeout time.Duration       `yaml:"startup_timeout"`
}

// DefaultConfig returns a Config with every optional field set to its
// default.
func DefaultConfig() Config {
	return Config{
		ProjectDir:     ".",
		Contexts:       append([]string(nil), DefaultContexts...),
		Generate:       generator.Artifacts{POJOs: true, Records: true, DAOs: true},
		Image:          pgcontainer.DefaultImage,
		StartupTimeout: pgcontainer.DefaultStartupTimeout,
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig. Relative
// paths in the file are resolved against the file's directory.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for _, p := range []*string{&cfg.ChangelogPath, &cfg.ProjectDir, &cfg.BuildFile, &cfg.AugmentFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	return cfg, nil
}

// withDefaults fills unset optional fields.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ProjectDir == "" {
		c.ProjectDir = d.ProjectDir
	}
	if c.BuildFile == "" {
		c.BuildFile = filepath.Join(c.ProjectDir, build.DefaultFile)
	}
	// An empty, non-nil list selects no runtime contexts.
	if c.Contexts == nil {
		c.Contexts = d.Contexts
	}
	if c.Image == "" {
		c.Image = d.Image
	}
	if c.StartupTimeout == 0 {
		c.StartupTimeout = d.StartupTimeout
	}
	return c
}

// Validate checks the required fields.
func (c Config) Validate() error {
	var errs []error
	if _, _, err := generator.PackagePath(c.PackageName); err != nil {
		errs = append(errs, err)
	}
	if err := pgident.Validate(c.Schema, "schema"); err != nil {
		errs = append(errs, err)
	}
	// The changelog itself is read by the migration step.
	if c.ChangelogPath == "" {
		errs = append(errs, errors.New("changelog path is required"))
	}
	if c.AugmentFile != "" {
		if err := checkReadableFile(c.AugmentFile, "augment file"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.StartupTimeout < 0 {
		errs = append(errs, fmt.Errorf("startup timeout must not be negative (got %s)", c.StartupTimeout))
	}
	if c.Generate == (generator.Artifacts{}) {
		errs = append(errs, errors.New("at least one of pojos, records or daos must be generated"))
	}
	return errors.Join(errs...)
}

// OutputPath returns the directory receiving the generated sources.
func (c Config) OutputPath() string {
	return filepath.Join(c.withDefaults().ProjectDir, OutputDir)
}

func checkReadableFile(path, what string) error {
	if path == "" {
		return fmt.Errorf("%s path is required", what)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s %s is not a regular file", what, path)
	}
	return nil
}
