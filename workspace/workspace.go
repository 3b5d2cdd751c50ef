// Package workspace owns the temporary directory that holds generated
// assembly and executables for one harness run.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

const (
	// DefaultPrefix is the name prefix of every workspace directory
	DefaultPrefix = "op-conform-"

	AsmExt = ".s"
	ExeExt = ".out"
)

// ArtifactKey identifies the artifacts of one (test case, optimization level) pair
type ArtifactKey struct {
	TestID   string
	OptLevel string
}

// Artifacts holds the workspace paths generated for one ArtifactKey
type Artifacts struct {
	AsmPath string
	ExePath string
}

// Workspace is a scoped temporary directory. It is created fresh for every
// run and removed by Finalize only when the run had no failures.
type Workspace struct {
	root string
	log  log.Logger

	mu        sync.Mutex
	levelDirs map[string]string // opt level -> created subdirectory
	finalized bool
}

// New creates a uniquely named workspace directory under parent. An empty
// parent means the system temporary directory. The root is always absolute,
// since pipeline steps run with different working directories.
func New(parent string, logger log.Logger) (*Workspace, error) {
	if logger == nil {
		logger = log.Root()
	}
	if parent != "" {
		abs, err := filepath.Abs(parent)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workspace parent %s: %w", parent, err)
		}
		parent = abs
		if err := os.MkdirAll(parent, 0755); err != nil {
			return nil, fmt.Errorf("failed to create workspace parent %s: %w", parent, err)
		}
	}
	root, err := os.MkdirTemp(parent, DefaultPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	if root, err = filepath.Abs(root); err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}
	logger.Debug("Created workspace", "dir", root)
	return &Workspace{
		root:      root,
		log:       logger,
		levelDirs: make(map[string]string),
	}, nil
}

// Root returns the workspace directory
func (w *Workspace) Root() string {
	return w.root
}

// LevelDirName maps an optimization flag to the subdirectory name used for
// its artifacts, e.g. "-O2" -> "O2".
func LevelDirName(optLevel string) string {
	name := strings.TrimLeft(optLevel, "-")
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" || name == "." || name == ".." {
		name = "default"
	}
	return name
}

// ValidateLevels returns an error when two distinct optimization levels would
// share an artifact directory.
func ValidateLevels(levels []string) error {
	seen := make(map[string]string, len(levels))
	for _, level := range levels {
		dir := LevelDirName(level)
		if prev, ok := seen[dir]; ok {
			if prev == level {
				return fmt.Errorf("optimization level %q is configured twice", level)
			}
			return fmt.Errorf("optimization levels %q and %q map to the same artifact directory %q", prev, level, dir)
		}
		seen[dir] = level
	}
	return nil
}

// Paths returns the artifact paths for key, creating the level directory on
// first use. Distinct keys always map to distinct paths.
func (w *Workspace) Paths(key ArtifactKey) (Artifacts, error) {
	if key.TestID == "" {
		return Artifacts{}, errors.New("artifact key requires a test id")
	}
	dir, err := w.levelDir(key.OptLevel)
	if err != nil {
		return Artifacts{}, err
	}
	return Artifacts{
		AsmPath: filepath.Join(dir, key.TestID+AsmExt),
		ExePath: filepath.Join(dir, key.TestID+ExeExt),
	}, nil
}

func (w *Workspace) levelDir(optLevel string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if dir, ok := w.levelDirs[optLevel]; ok {
		return dir, nil
	}
	dir := filepath.Join(w.root, LevelDirName(optLevel))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory %s: %w", dir, err)
	}
	w.levelDirs[optLevel] = dir
	return dir, nil
}

// Finalize removes the workspace when failed is zero and retains it
// otherwise. It returns whether the directory was removed. Only the first
// call has any effect.
func (w *Workspace) Finalize(failed int) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized {
		return false, nil
	}
	w.finalized = true

	if failed > 0 {
		w.log.Info("Keeping workspace for inspection", "dir", w.root, "failed", failed)
		return false, nil
	}
	if err := os.RemoveAll(w.root); err != nil {
		return false, fmt.Errorf("failed to remove workspace %s: %w", w.root, err)
	}
	w.log.Debug("Removed workspace", "dir", w.root)
	return true, nil
}
