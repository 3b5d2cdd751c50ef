package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum-optimism/infra/op-conform/types"
	"github.com/ethereum-optimism/infra/op-conform/workspace"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
)

// The fake compiler copies the source to the assembly path and the fake
// linker copies the assembly to the executable path, so every test source is
// a shell script that the fake emulator (sh) runs.
const fakeCompilerScript = `#!/bin/sh
src="$1"
shift
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then out="$2"; shift; fi
  shift
done
if grep -q COMPILE_ERROR "$src"; then
  echo "syntax error in $src" >&2
  exit 1
fi
cp "$src" "$out"
`

const fakeLinkerScript = `#!/bin/sh
asm="$2"
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then out="$2"; shift; fi
  shift
done
if grep -q LINK_ERROR "$asm"; then
  echo "undefined reference to 'main'" >&2
  exit 1
fi
cp "$asm" "$out"
`

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func fakeToolchain(t *testing.T) Toolchain {
	t.Helper()
	dir := t.TempDir()
	compiler := filepath.Join(dir, "compiler.sh")
	linker := filepath.Join(dir, "linker.sh")
	writeFile(t, compiler, fakeCompilerScript)
	writeFile(t, linker, fakeLinkerScript)
	return Toolchain{
		Compiler:      []string{"sh", compiler},
		Linker:        []string{"sh", linker},
		March:         DefaultMarch,
		RuntimeLibDir: DefaultRuntimeLibDir,
		RuntimeLib:    DefaultRuntimeLib,
		Emulator:      []string{"sh"},
	}
}

// fixture describes one test case on disk. Empty stdin/expected mean the
// corresponding file is not created.
type fixture struct {
	id       string
	source   string
	stdin    string
	expected string
}

func writeFixture(t *testing.T, dir string, f fixture) types.TestCase {
	t.Helper()
	tc := types.TestCase{
		ID:         f.id,
		SourcePath: filepath.Join(dir, f.id+".sy"),
	}
	writeFile(t, tc.SourcePath, f.source)
	if f.stdin != "" {
		tc.StdinPath = filepath.Join(dir, f.id+".in")
		writeFile(t, tc.StdinPath, f.stdin)
	}
	if f.expected != "" {
		tc.ExpectedPath = filepath.Join(dir, f.id+".out")
		writeFile(t, tc.ExpectedPath, f.expected)
	}
	return tc
}

func newTestWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.New(t.TempDir(), testLogger())
	require.NoError(t, err)
	return ws
}
