package reporting

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-conform/types"
	"github.com/jedib0t/go-pretty/v6/text"
)

const (
	passMark = "✓"
	failMark = "✗"

	levelIndent  = "  "
	headerIndent = "    "
	bodyIndent   = "      "
)

// palette applies console colours, or nothing when colours are disabled
type palette struct {
	enabled bool
}

func (p palette) paint(colors text.Colors, s string) string {
	if !p.enabled {
		return s
	}
	return colors.Sprint(s)
}

func (p palette) green(s string) string { return p.paint(text.Colors{text.FgGreen}, s) }
func (p palette) red(s string) string   { return p.paint(text.Colors{text.FgRed}, s) }
func (p palette) yellow(s string) string {
	return p.paint(text.Colors{text.FgYellow}, s)
}

// FormatVerdict renders a verdict the way it is printed on the console: one
// line for a pass, or a header followed by a block per failing level.
func FormatVerdict(v *types.TestVerdict, color bool) string {
	p := palette{enabled: color}
	var b strings.Builder

	if v.Passed() {
		fmt.Fprintf(&b, " %s %s (%s)\n", p.green(passMark), v.Case.SourcePath, formatMillis(v.Slowest()))
		return b.String()
	}

	fmt.Fprintf(&b, " %s\n", p.red(failMark+" "+v.Case.SourcePath))
	for _, o := range v.FailedOutcomes() {
		b.WriteString(levelIndent + o.OptLevel + "\n")
		b.WriteString(headerIndent + "asm file: " + o.AsmPath + "\n")
		b.WriteString(headerIndent + "expect:\n")
		writeIndented(&b, o.Expected)
		b.WriteString(headerIndent + "get:\n")
		writeIndented(&b, o.Observed)
		if lines := o.DiagnosticLines(); lines != nil {
			b.WriteString(headerIndent + "stderr:\n")
			writeIndented(&b, strings.Join(lines, "\n"))
		}
	}
	return b.String()
}

// FormatTotals renders the closing pass/fail counts. Zero counts are omitted.
func FormatTotals(passed, failed, notRun int, color bool) string {
	p := palette{enabled: color}
	var b strings.Builder
	b.WriteString("\n")
	if passed > 0 {
		b.WriteString(headerIndent + p.green(fmt.Sprintf("%d pass", passed)) + "\n")
	}
	if failed > 0 {
		b.WriteString(headerIndent + p.red(fmt.Sprintf("%d fail", failed)) + "\n")
	}
	if notRun > 0 {
		b.WriteString(headerIndent + p.yellow(fmt.Sprintf("%d not run", notRun)) + "\n")
	}
	return b.String()
}

func writeIndented(b *strings.Builder, s string) {
	for _, line := range strings.Split(s, "\n") {
		b.WriteString(bodyIndent + line + "\n")
	}
}

func formatMillis(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}
