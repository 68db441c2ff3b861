// Package manifest handles cildecode.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/cildecode/deobf"
	"github.com/chazu/cildecode/pkg/codec"
	"github.com/chazu/cildecode/pkg/image"
	"github.com/chazu/cildecode/vm"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "cildecode.toml"

// Manifest represents a cildecode.toml configuration.
type Manifest struct {
	Output Output `toml:"output"`
	Decode Decode `toml:"decode"`
	Log    Log    `toml:"log"`

	// Dir is the directory containing the cildecode.toml file (set at load time).
	// Empty for the defaults.
	Dir string `toml:"-"`
}

// Output configures where the rewritten module is written.
type Output struct {
	Suffix  string `toml:"suffix"`
	InPlace bool   `toml:"in-place"`
}

// Decode tunes the decode session.
type Decode struct {
	Codec     string `toml:"codec"`
	MaxDepth  int    `toml:"max-depth"`
	StepLimit int    `toml:"step-limit"`
}

// Log configures diagnostics.
type Log struct {
	Verbosity int  `toml:"verbosity"`
	Trace     bool `toml:"trace"`
}

// Default returns the configuration used when no cildecode.toml exists.
func Default() *Manifest {
	return &Manifest{
		Output: Output{Suffix: image.DefaultSuffix},
		Decode: Decode{Codec: codec.Default, MaxDepth: vm.DefaultMaxDepth},
	}
}

// Load parses a cildecode.toml file from the given directory. Keys the
// file leaves out keep their default values.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a cildecode.toml file, then
// loads and returns it. Returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

func (m *Manifest) validate() error {
	if _, err := codec.Lookup(m.Decode.Codec); err != nil {
		return err
	}
	if m.Decode.MaxDepth < 0 {
		return fmt.Errorf("max-depth must not be negative, got %d", m.Decode.MaxDepth)
	}
	if m.Decode.StepLimit < 0 {
		return fmt.Errorf("step-limit must not be negative, got %d", m.Decode.StepLimit)
	}
	return nil
}

// Options returns the decode options described by the manifest.
func (m *Manifest) Options() (deobf.Options, error) {
	c, err := codec.Lookup(m.Decode.Codec)
	if err != nil {
		return deobf.Options{}, err
	}
	return deobf.Options{
		Codec: c,
		VM: vm.Config{
			MaxDepth:  m.Decode.MaxDepth,
			StepLimit: m.Decode.StepLimit,
			Trace:     m.Log.Trace,
		},
	}, nil
}

// OutputPath returns where the module decoded from input is written.
func (m *Manifest) OutputPath(input string) string {
	return image.OutputPath(input, m.Output.InPlace, m.Output.Suffix)
}
