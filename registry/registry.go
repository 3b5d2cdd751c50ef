package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum-optimism/infra/op-conform/types"
	"github.com/ethereum/go-ethereum/log"
)

const (
	DefaultSourceExt = ".sy"
	StdinExt         = ".in"
	ExpectedExt      = ".out"
)

// Registry holds the test cases discovered in a fixture directory
type Registry struct {
	cases []types.TestCase
	mu    sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log       log.Logger
	TestDir   string
	SourceExt string         // Defaults to DefaultSourceExt
	Filter    *regexp.Regexp // Optional; matched against test IDs
}

// NewRegistry creates a registry and discovers its test cases
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.TestDir == "" {
		return nil, fmt.Errorf("test directory is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.SourceExt == "" {
		cfg.SourceExt = DefaultSourceExt
	}

	r := &Registry{}

	cases, err := Discover(cfg.TestDir, cfg.SourceExt, cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to discover tests: %w", err)
	}
	r.cases = cases

	cfg.Log.Debug("Registry loaded", "dir", cfg.TestDir, "len(cases)", len(cases))
	return r, nil
}

// GetTestCases returns all discovered test cases, sorted by ID
func (r *Registry) GetTestCases() []types.TestCase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.TestCase, len(r.cases))
	copy(out, r.cases)
	return out
}


// Discover scans dir (non-recursively) for files ending in sourceExt. Each
// match becomes a TestCase whose stdin and expected-output fixtures are the
// sibling <id>.in and <id>.out files, when present.
func Discover(dir, sourceExt string, filter *regexp.Regexp) ([]types.TestCase, error) {
	if sourceExt == "" {
		sourceExt = DefaultSourceExt
	}
	if !strings.HasPrefix(sourceExt, ".") {
		sourceExt = "." + sourceExt
	}
	if sourceExt == StdinExt || sourceExt == ExpectedExt {
		return nil, fmt.Errorf("source extension %q collides with fixture extensions", sourceExt)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving test directory %s: %w", dir, err)
	}
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, fmt.Errorf("reading test directory: %w", err)
	}

	seen := make(map[string]string)
	var cases []types.TestCase
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, sourceExt) {
			continue
		}
		id := strings.TrimSuffix(name, sourceExt)
		if id == "" {
			continue
		}
		if filter != nil && !filter.MatchString(id) {
			continue
		}
		if prev, ok := seen[id]; ok {
			return nil, fmt.Errorf("duplicate test id %q (%s and %s)", id, prev, name)
		}
		seen[id] = name

		tc := types.TestCase{
			ID:         id,
			SourcePath: filepath.Join(absDir, name),
		}
		if p := filepath.Join(absDir, id+StdinExt); isRegularFile(p) {
			tc.StdinPath = p
		}
		if p := filepath.Join(absDir, id+ExpectedExt); isRegularFile(p) {
			tc.ExpectedPath = p
		}
		cases = append(cases, tc)
	}

	sort.Slice(cases, func(i, j int) bool {
		return cases[i].ID < cases[j].ID
	})
	return cases, nil
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
