package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/petalstat/tool"
)

const (
	projectCatalogName = "petalstat.yaml"
	homeCatalogName    = "catalog.yaml"

	// EmbeddedSource names the built-in catalogue in Catalog.Source.
	EmbeddedSource = "embedded:default.yaml"
)

//go:embed default.yaml
var defaultCatalog []byte

// File is the on-disk catalogue shape.
type File struct {
	Tools []tool.Definition `yaml:"tools"`
}

// Options tune how worker references are resolved.
type Options struct {
	// WorkerDir is the working directory for tools of the embedded catalogue.
	// Relative values resolve against the process working directory.
	WorkerDir string
}

// Catalog is a loaded, validated catalogue.
type Catalog struct {
	// Source is the file path the catalogue was read from, or EmbeddedSource.
	Source   string
	Registry *tool.Registry
}

// Open discovers and loads the catalogue. An explicit path that does not
// exist is an error; otherwise the embedded catalogue is the fallback.
func Open(explicitPath string, opts Options) (*Catalog, error) {
	path, found, err := Discover(explicitPath)
	if err != nil {
		return nil, err
	}
	if !found {
		return Default(opts)
	}
	return Load(path)
}

// Load reads and validates the catalogue at path. Relative worker
// directories resolve against the catalogue file's directory.
func Load(path string) (*Catalog, error) {
	// #nosec G304 -- path resolved from explicit local catalogue discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalogue %q: %w", path, err)
	}
	baseDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolving catalogue directory: %w", err)
	}
	return build(data, path, baseDir)
}

// Default loads the catalogue embedded in the binary.
func Default(opts Options) (*Catalog, error) {
	baseDir := strings.TrimSpace(opts.WorkerDir)
	if baseDir == "" {
		baseDir = "."
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving worker directory: %w", err)
	}
	return build(defaultCatalog, EmbeddedSource, abs)
}

func build(data []byte, source, baseDir string) (*Catalog, error) {
	defs, err := Parse(data, baseDir)
	if err != nil {
		return nil, fmt.Errorf("parsing catalogue %q: %w", source, err)
	}
	reg, err := tool.NewRegistry(defs...)
	if err != nil {
		return nil, fmt.Errorf("catalogue %q: %w", source, err)
	}
	return &Catalog{Source: source, Registry: reg}, nil
}

// Parse decodes catalogue YAML. Environment references in worker fields are
// expanded and worker directories are anchored at baseDir.
func Parse(data []byte, baseDir string) ([]tool.Definition, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Tools) == 0 {
		return nil, errors.New("catalogue declares no tools")
	}
	for i := range file.Tools {
		file.Tools[i].Worker = resolveWorker(file.Tools[i].Worker, baseDir)
	}
	return file.Tools, nil
}

func resolveWorker(spec tool.WorkerSpec, baseDir string) tool.WorkerSpec {
	spec.Command = strings.TrimSpace(os.ExpandEnv(spec.Command))
	if len(spec.Args) > 0 {
		args := make([]string, 0, len(spec.Args))
		for _, arg := range spec.Args {
			args = append(args, os.ExpandEnv(arg))
		}
		spec.Args = args
	}
	if len(spec.Env) > 0 {
		env := make(map[string]string, len(spec.Env))
		for key, value := range spec.Env {
			env[key] = os.ExpandEnv(value)
		}
		spec.Env = env
	}
	spec.Dir = resolveRelative(baseDir, os.ExpandEnv(spec.Dir))
	return spec
}

func resolveRelative(baseDir, p string) string {
	clean := strings.TrimSpace(p)
	if clean == "" {
		return baseDir
	}
	clean = filepath.Clean(clean)
	if filepath.IsAbs(clean) {
		return clean
	}
	return filepath.Join(baseDir, clean)
}

// Discover resolves the catalogue location with first-match semantics.
func Discover(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// No home directory is not fatal; the embedded catalogue still applies.
		homeDir = ""
	}
	return DiscoverFrom(explicitPath, cwd, homeDir)
}

// DiscoverFrom is a testable variant of Discover.
func DiscoverFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	explicit := strings.TrimSpace(explicitPath)
	candidates := make([]string, 0, 2)
	if explicit != "" {
		candidates = append(candidates, filepath.Clean(explicit))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectCatalogName))
		if homeDir != "" {
			candidates = append(candidates, filepath.Join(homeDir, ".petalstat", homeCatalogName))
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) || (err == nil && info.IsDir()) {
			if explicit != "" {
				return "", false, fmt.Errorf("catalogue file %q: %w", candidate, os.ErrNotExist)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking catalogue path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}
