package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/standardbeagle/uci/internal/types"
)

// ManifestLoader is a ProjectLoader reading the unit graph from a TOML
// manifest. Real build systems plug in their own loader; the manifest form
// covers small projects and tests.
//
// Manifest shape:
//
//	[[unit]]
//	name = "core"
//	disambiguator = ""
//	deps = ["std"]
//	files = ["src/lib.x", "src/io.x"]
//	args = ["--edition", "2024"]
//	root_file = "src/lib.x"
type ManifestLoader struct {
	// Path to the manifest file.
	Path string
	// Root resolves relative file paths.
	Root string
}

type manifestUnit struct {
	Name          string   `toml:"name"`
	Disambiguator string   `toml:"disambiguator"`
	Deps          []string `toml:"deps"`
	DepDisambigs  []string `toml:"dep_disambiguators"`
	Files         []string `toml:"files"`
	Args          []string `toml:"args"`
	Env           []string `toml:"env"`
	RootFile      string   `toml:"root_file"`
}

type manifestFile struct {
	Units []manifestUnit `toml:"unit"`
}

// Load implements ProjectLoader.
func (l *ManifestLoader) Load(ctx context.Context) ([]UnitSpec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("read unit manifest: %w", err)
	}
	var mf manifestFile
	if err := toml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parse unit manifest %s: %w", l.Path, err)
	}

	byName := make(map[string]bool, len(mf.Units))
	specs := make([]UnitSpec, 0, len(mf.Units))
	for _, mu := range mf.Units {
		if mu.Name == "" {
			return nil, fmt.Errorf("unit manifest %s: unit with empty name", l.Path)
		}
		key := mu.Name + "/" + mu.Disambiguator
		if byName[key] {
			return nil, fmt.Errorf("unit manifest %s: duplicate unit %s", l.Path, key)
		}
		byName[key] = true

		spec := UnitSpec{
			Identity: types.UnitIdentity{Name: mu.Name, Disambiguator: mu.Disambiguator},
			Invoke: Invocation{
				Args:     mu.Args,
				Env:      mu.Env,
				WorkDir:  l.Root,
				RootFile: l.abs(mu.RootFile),
			},
		}
		for i, dep := range mu.Deps {
			disambig := ""
			if i < len(mu.DepDisambigs) {
				disambig = mu.DepDisambigs[i]
			}
			spec.Deps = append(spec.Deps, types.UnitIdentity{Name: dep, Disambiguator: disambig})
		}
		for _, f := range mu.Files {
			spec.Files = append(spec.Files, l.abs(f))
		}
		specs = append(specs, spec)
	}

	if err := rejectCycles(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

func (l *ManifestLoader) abs(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(l.Root, path)
}

// rejectCycles verifies the declared graph is a DAG. Units must form a DAG;
// a cyclic manifest is a configuration error, not something the scheduler
// should try to order.
func rejectCycles(specs []UnitSpec) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	index := make(map[types.UnitIdentity]*UnitSpec, len(specs))
	for i := range specs {
		index[specs[i].Identity] = &specs[i]
	}
	color := make(map[types.UnitIdentity]int, len(specs))

	var visit func(id types.UnitIdentity) error
	visit = func(id types.UnitIdentity) error {
		switch color[id] {
		case gray:
			return fmt.Errorf("unit dependency cycle involving %s", id)
		case black:
			return nil
		}
		color[id] = gray
		if spec, ok := index[id]; ok {
			for _, dep := range spec.Deps {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for i := range specs {
		if err := visit(specs[i].Identity); err != nil {
			return err
		}
	}
	return nil
}
