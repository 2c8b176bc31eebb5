// report_gen merges `go test -json` output with the TestPurpose annotations
// found in test doc comments and renders JSON, Markdown and HTML reports.
//
//	go test -json ./... > test.json
//	go run ./scripts/testing --input test.json --out-json r.json --out-md r.md
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	htmltemplate "html/template"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/template"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/mod/modfile"
)

// TestMetadata holds the annotations parsed from a test's doc comment
type TestMetadata struct {
	Name       string `json:"name"`
	Purpose    string `json:"purpose,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Security   string `json:"security,omitempty"`
	Expected   string `json:"expected,omitempty"`
	TestCaseID string `json:"test_case_id,omitempty"`
	Package    string `json:"package"`
	Category   string `json:"category"`
	Type       string `json:"type"` // UT or E2E
}

// GoTestEvent is one line of `go test -json`
type GoTestEvent struct {
	Time    time.Time `json:"Time"`
	Action  string    `json:"Action"`
	Package string    `json:"Package"`
	Test    string    `json:"Test"`
	Elapsed float64   `json:"Elapsed"`
	Output  string    `json:"Output"`
}

// TestResult is the merged outcome of a single test
type TestResult struct {
	Name        string       `json:"name"`
	Status      string       `json:"status"`
	Elapsed     float64      `json:"elapsed_seconds"`
	Package     string       `json:"package"`
	Failure     string       `json:"failure_reason,omitempty"`
	Annotations TestMetadata `json:"annotations"`
}

// Category groups results for rendering
type Category struct {
	Name  string
	Tests []TestResult
}

// Report holds top-level stats
type Report struct {
	Title       string       `json:"title"`
	GeneratedAt time.Time    `json:"generated_at"`
	Total       int          `json:"total"`
	Passed      int          `json:"passed"`
	Failed      int          `json:"failed"`
	Skipped     int          `json:"skipped"`
	Results     []TestResult `json:"results"`
}

// PassRate is the share of passing tests in percent
func (r Report) PassRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Total) * 100
}

// Categories groups results in a fixed display order
func (r Report) Categories() []Category {
	byName := make(map[string][]TestResult)
	for _, res := range r.Results {
		byName[res.Annotations.Category] = append(byName[res.Annotations.Category], res)
	}
	var out []Category
	for _, name := range categoryOrder {
		if tests := byName[name]; len(tests) > 0 {
			slices.SortFunc(tests, func(a, b TestResult) int { return strings.Compare(a.Name, b.Name) })
			out = append(out, Category{Name: name, Tests: tests})
		}
	}
	return out
}

// Failures lists failed results
func (r Report) Failures() []TestResult {
	var out []TestResult
	for _, res := range r.Results {
		if res.Status == "fail" {
			out = append(out, res)
		}
	}
	return out
}

var categoryOrder = []string{
	"AuthN", "AuthZ", "Tenant", "Capacity", "Billing", "Impersonation",
	"Audit", "Store", "API", "Config", "E2E Tests", "Other",
}

// categoryRules map a package path fragment to a category. First match wins.
var categoryRules = []struct{ fragment, category string }{
	{"tests/e2e", "E2E Tests"},
	{"internal/identity", "AuthN"},
	{"internal/authz", "AuthZ"},
	{"internal/tenant", "Tenant"},
	{"internal/capacity", "Capacity"},
	{"internal/billing", "Billing"},
	{"internal/impersonation", "Impersonation"},
	{"internal/audit", "Audit"},
	{"internal/store", "Store"},
	{"internal/transport", "API"},
	{"internal/config", "Config"},
}

type options struct {
	input       string
	outJSON     string
	outMD       string
	outHTML     string
	title       string
	categories  []string
	excludeCats []string
	testType    string
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:          "report_gen",
		Short:        "Render an annotated test report from go test -json output",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.input, "input", "", "path to go test -json output")
	f.StringVar(&opts.outJSON, "out-json", "", "path for the JSON report")
	f.StringVar(&opts.outMD, "out-md", "", "path for the Markdown report")
	f.StringVar(&opts.outHTML, "out-html", "", "path for the HTML report")
	f.StringVar(&opts.title, "title", "Test Report", "report title")
	f.StringSliceVar(&opts.categories, "filter-categories", nil, "categories to include")
	f.StringSliceVar(&opts.excludeCats, "exclude-categories", nil, "categories to exclude")
	f.StringVar(&opts.testType, "filter-type", "", "test type to include (UT, E2E)")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("out-json")
	_ = cmd.MarkFlagRequired("out-md")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(stdout io.Writer, opts options) error {
	modulePath, err := readModulePath("go.mod")
	if err != nil {
		return err
	}

	meta, err := scanMetadata(".", modulePath)
	if err != nil {
		return err
	}

	results, err := parseTestOutput(opts.input, meta)
	if err != nil {
		return err
	}
	results = slices.DeleteFunc(results, func(r TestResult) bool { return !opts.keep(r) })

	report := summarize(opts.title, results)
	if err := writeJSON(report, opts.outJSON); err != nil {
		return err
	}
	if err := render(markdownTemplate, report, opts.outMD); err != nil {
		return err
	}
	if opts.outHTML != "" {
		if err := render(htmlTemplate, report, opts.outHTML); err != nil {
			return err
		}
	}

	// Fail the process so CI gates on the report step too.
	if report.Failed > 0 {
		return fmt.Errorf("%d tests failed", report.Failed)
	}
	fmt.Fprintf(stdout, "%d tests, %d passed, %d skipped\n", report.Total, report.Passed, report.Skipped)
	return nil
}

func (o options) keep(r TestResult) bool {
	cat := r.Annotations.Category
	if len(o.categories) > 0 && !slices.Contains(o.categories, cat) {
		return false
	}
	if slices.Contains(o.excludeCats, cat) {
		return false
	}
	if o.testType != "" && !strings.EqualFold(r.Annotations.Type, o.testType) {
		return false
	}
	return true
}

func readModulePath(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("run from the module root: %w", err)
	}
	mod := modfile.ModulePath(data)
	if mod == "" {
		return "", fmt.Errorf("%s has no module directive", path)
	}
	return mod, nil
}

var annotationPrefixes = []string{"TestPurpose:", "Scope:", "Security:", "Expected:", "Test Case ID:"}

func scanMetadata(root, modulePath string) (map[string]TestMetadata, error) {
	out := make(map[string]TestMetadata)
	fset := token.NewFileSet()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, "_test.go") {
			return nil
		}

		file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
		if err != nil {
			return nil
		}
		pkg := packagePath(modulePath, filepath.Dir(path))

		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv != nil || !strings.HasPrefix(fn.Name.Name, "Test") || fn.Name.Name == "TestMain" {
				continue
			}
			m := TestMetadata{
				Name:     fn.Name.Name,
				Package:  pkg,
				Type:     testType(pkg),
				Category: category(pkg),
			}
			if fn.Doc != nil {
				annotate(&m, fn.Doc)
			}
			out[pkg+"."+fn.Name.Name] = m
		}
		return nil
	})
	return out, err
}

func annotate(m *TestMetadata, doc *ast.CommentGroup) {
	for _, c := range doc.List {
		text := strings.TrimSpace(strings.TrimPrefix(c.Text, "//"))
		for _, prefix := range annotationPrefixes {
			value, ok := strings.CutPrefix(text, prefix)
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)
			switch prefix {
			case "TestPurpose:":
				m.Purpose = value
			case "Scope:":
				m.Scope = value
			case "Security:":
				m.Security = value
			case "Expected:":
				m.Expected = value
			case "Test Case ID:":
				m.TestCaseID = value
			}
		}
	}
}

func packagePath(modulePath, dir string) string {
	dir = filepath.ToSlash(filepath.Clean(dir))
	if dir == "." {
		return modulePath
	}
	return modulePath + "/" + dir
}

func testType(pkg string) string {
	if strings.Contains(pkg, "/tests/e2e") {
		return "E2E"
	}
	return "UT"
}

func category(pkg string) string {
	for _, rule := range categoryRules {
		if strings.Contains(pkg, rule.fragment) {
			return rule.category
		}
	}
	return "Other"
}

func parseTestOutput(path string, meta map[string]TestMetadata) ([]TestResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open test output: %w", err)
	}
	defer file.Close()

	states := make(map[string]*TestResult, len(meta))
	for key, m := range meta {
		states[key] = &TestResult{Name: m.Name, Package: m.Package, Status: "not run", Annotations: m}
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var event GoTestEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil || event.Test == "" {
			continue
		}

		key := event.Package + "." + event.Test
		res, ok := states[key]
		if !ok {
			res = &TestResult{Name: event.Test, Package: event.Package, Annotations: inherit(meta, event)}
			states[key] = res
		}

		switch event.Action {
		case "pass", "fail":
			res.Status = event.Action
			res.Elapsed = event.Elapsed
		case "skip":
			res.Status = "skip"
		case "output":
			if res.Status == "fail" || res.Status == "" {
				res.Failure += event.Output
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read test output: %w", err)
	}

	results := make([]TestResult, 0, len(states))
	for _, r := range states {
		results = append(results, *r)
	}
	return results, nil
}

// inherit gives a subtest its parent's annotations.
func inherit(meta map[string]TestMetadata, event GoTestEvent) TestMetadata {
	parent, _, isSubtest := strings.Cut(event.Test, "/")
	if m, ok := meta[event.Package+"."+parent]; ok && isSubtest {
		m.Name = event.Test
		return m
	}
	return TestMetadata{
		Name:     event.Test,
		Package:  event.Package,
		Type:     testType(event.Package),
		Category: category(event.Package),
	}
}

func summarize(title string, results []TestResult) Report {
	r := Report{Title: title, GeneratedAt: time.Now(), Results: results}
	for _, res := range results {
		r.Total++
		switch res.Status {
		case "pass":
			r.Passed++
		case "fail":
			r.Failed++
		case "skip":
			r.Skipped++
		}
	}
	return r
}

func writeJSON(r Report, path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

type executor interface {
	Execute(w io.Writer, data any) error
}

func render(tmpl executor, r Report, path string) error {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, r); err != nil {
		return fmt.Errorf("failed to render %s: %w", path, err)
	}
	return writeFile(path, []byte(sb.String()))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

var funcs = map[string]any{
	"icon": func(status string) string {
		switch status {
		case "pass":
			return "✅"
		case "fail":
			return "❌"
		case "skip":
			return "⏭️"
		}
		return "⚪"
	},
	"stamp": func(t time.Time) string { return t.Format("2006-01-02 15:04:05 MST") },
}

var markdownTemplate = template.Must(template.New("md").Funcs(funcs).Parse(
	`# Portalcore {{ .Title }}

**Generated:** {{ stamp .GeneratedAt }}  
**Status:** {{ if .Failed }}❌ FAILED{{ else }}✅ PASSED{{ end }}

## Summary

| Total | Passed | Failed | Skipped | Pass Rate |
|-------|--------|--------|---------|-----------|
| {{ .Total }} | {{ .Passed }} | {{ .Failed }} | {{ .Skipped }} | {{ printf "%.1f" .PassRate }}% |

## Test Results by Category
{{ range .Categories }}
### {{ .Name }}

| ID | Test Name | Status | Purpose | Security |
|----|-----------|--------|---------|----------|
{{ range .Tests }}| {{ .Annotations.TestCaseID }} | {{ .Name }} | {{ icon .Status }} | {{ .Annotations.Purpose }} | {{ with .Annotations.Security }}**{{ . }}**{{ end }} |
{{ end }}{{ end }}
{{- with .Failures }}
## Failure Details
{{ range . }}
### {{ .Name }} ({{ .Package }})
` + "```" + `
{{ .Failure }}
` + "```" + `
{{ end }}{{ end }}`))

var htmlTemplate = htmltemplate.Must(htmltemplate.New("html").Funcs(funcs).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>Portalcore - {{ .Title }}</title>
<style>
body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; background: #f8fafc; color: #1e293b; margin: 0; padding: 2rem; }
.container { max-width: 1000px; margin: 0 auto; background: white; padding: 2rem; border-radius: 8px; }
.pass { color: #166534; } .fail { color: #991b1b; }
table { width: 100%; border-collapse: collapse; margin-top: 1rem; }
th { text-align: left; background: #f1f5f9; padding: 0.75rem; }
td { padding: 0.75rem; border-bottom: 1px solid #e2e8f0; font-size: 0.875rem; vertical-align: top; }
.cat { margin-top: 2rem; border-left: 4px solid #2563eb; padding-left: 1rem; font-weight: 600; }
pre { background: #0f172a; color: #f8fafc; padding: 1rem; overflow-x: auto; }
</style>
</head>
<body>
<div class="container">
<h1>{{ .Title }}</h1>
<p>Generated at {{ stamp .GeneratedAt }} |
{{ if .Failed }}<span class="fail">FAILED</span>{{ else }}<span class="pass">PASSED</span>{{ end }}</p>
<p>{{ .Total }} total, {{ .Passed }} passed, {{ .Failed }} failed, {{ .Skipped }} skipped ({{ printf "%.1f" .PassRate }}%)</p>
{{ range .Categories }}
<div class="cat">{{ .Name }}</div>
<table>
<thead><tr><th>ID</th><th>Test Name</th><th>Status</th><th>Purpose</th><th>Security</th></tr></thead>
<tbody>
{{ range .Tests }}<tr><td>{{ .Annotations.TestCaseID }}</td><td><code>{{ .Name }}</code></td><td>{{ icon .Status }}</td><td>{{ .Annotations.Purpose }}</td><td>{{ .Annotations.Security }}</td></tr>
{{ end }}</tbody>
</table>
{{ end }}
{{ with .Failures }}<h2>Failure Details</h2>
{{ range . }}<h3>{{ .Name }}</h3><pre>{{ .Failure }}</pre>
{{ end }}{{ end }}
</div>
</body>
</html>
`))
