package reporting

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum-optimism/infra/op-conform/runner"
	"github.com/ethereum-optimism/infra/op-conform/types"
)

const HTMLFileName = "results.html"

//go:embed templates/*.html.tmpl
var templateFS embed.FS

// templateFuncs are the helpers available to the results template
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatDuration": func(d time.Duration) string {
			if d < time.Second {
				return fmt.Sprintf("%dms", d.Milliseconds())
			}
			return d.Truncate(time.Millisecond).String()
		},
		"getStatusClass": func(passed bool) string {
			return statusString(passed)
		},
		"getStatusText": func(passed bool) string {
			if passed {
				return getResultString(types.TestStatusPass)
			}
			return getResultString(types.TestStatusFail)
		},
		"getOverallClass": func(s *runner.RunSummary) string {
			if s.Failed > 0 {
				return "fail"
			}
			if s.NotRun > 0 {
				return "not-run"
			}
			return "pass"
		},
	}
}

func statusString(passed bool) string {
	if passed {
		return string(types.TestStatusPass)
	}
	return string(types.TestStatusFail)
}

// HTMLSink renders every verdict of a run into a single HTML page
type HTMLSink struct {
	baseDir string
	runID   string
	tmpl    *template.Template

	mu       sync.Mutex
	verdicts []*types.TestVerdict
}

var _ runner.ResultSink = (*HTMLSink)(nil)

// NewHTMLSink creates a sink writing <baseDir>/testrun-<runID>/results.html
func NewHTMLSink(baseDir, runID string) (*HTMLSink, error) {
	tmpl, err := template.New("results.html.tmpl").Funcs(templateFuncs()).ParseFS(templateFS, "templates/results.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML template: %w", err)
	}
	return &HTMLSink{baseDir: baseDir, runID: runID, tmpl: tmpl}, nil
}

// RunDir returns the directory this sink writes to
func (s *HTMLSink) RunDir() string {
	return filepath.Join(s.baseDir, "testrun-"+s.runID)
}

func (s *HTMLSink) Consume(v *types.TestVerdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts = append(s.verdicts, v)
	return nil
}

func (s *HTMLSink) Complete(summary *runner.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Program output may contain terminal escapes; they are noise in a browser
	verdicts := make([]*types.TestVerdict, 0, len(s.verdicts))
	for _, v := range s.verdicts {
		clean := &types.TestVerdict{Case: v.Case}
		for _, o := range v.Outcomes {
			c := *o
			c.Expected = stripansi.Strip(o.Expected)
			c.Observed = stripansi.Strip(o.Observed)
			c.Diagnostics = stripansi.Strip(o.Diagnostics)
			clean.Outcomes = append(clean.Outcomes, &c)
		}
		verdicts = append(verdicts, clean)
	}

	var buf bytes.Buffer
	err := s.tmpl.Execute(&buf, struct {
		RunID    string
		Summary  *runner.RunSummary
		Verdicts []*types.TestVerdict
	}{
		RunID:    s.runID,
		Summary:  summary,
		Verdicts: verdicts,
	})
	if err != nil {
		return fmt.Errorf("failed to render HTML report: %w", err)
	}

	if err := os.MkdirAll(s.RunDir(), 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", s.RunDir(), err)
	}
	if err := os.WriteFile(filepath.Join(s.RunDir(), HTMLFileName), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write HTML report: %w", err)
	}
	return nil
}
