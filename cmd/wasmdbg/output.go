package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/edgerun/wasmdbg/detect"
	"github.com/edgerun/wasmdbg/property"
	"github.com/edgerun/wasmdbg/runner"
)

var (
	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	hookStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#87CEEB"))

	okStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD580"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// jsonFlow is the machine-readable view of a flow result. Errors render as
// strings so the output stays plain JSON.
type jsonFlow struct {
	Model    string            `json:"model"`
	Hooks    []jsonHook        `json:"hooks"`
	Response jsonResponse      `json:"response"`
	Props    map[string]string `json:"computed_properties,omitempty"`
}

type jsonHook struct {
	Hook       string          `json:"hook"`
	ReturnCode string          `json:"return_code,omitempty"`
	Logs       []string        `json:"logs,omitempty"`
	Violations []jsonViolation `json:"violations,omitempty"`
	Resumes    int             `json:"resumes,omitempty"`
	Deferred   bool            `json:"deferred,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type jsonViolation struct {
	Path   string `json:"path"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
	Value  string `json:"attempted_value,omitempty"`
}

type jsonResponse struct {
	Status      int        `json:"status"`
	StatusText  string     `json:"status_text,omitempty"`
	Headers     [][]string `json:"headers,omitempty"`
	Body        string     `json:"body,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
	Binary      bool       `json:"binary,omitempty"`
}

func printResultJSON(w io.Writer, model detect.ExecutionModel, res *runner.FullFlowResult) error {
	out := jsonFlow{Model: model.String(), Props: res.Properties}
	for _, hr := range res.Hooks {
		jh := jsonHook{
			Hook:     hr.Hook,
			Logs:     hr.Logs,
			Resumes:  hr.Resumes,
			Deferred: hr.Deferred,
		}
		if hr.ReturnCode != nil {
			jh.ReturnCode = hr.ReturnCode.String()
		}
		if hr.Err != nil {
			jh.Error = hr.Err.Error()
		}
		for _, v := range hr.Violations {
			jh.Violations = append(jh.Violations, jsonViolation{
				Path:   v.Path,
				Kind:   string(v.Kind),
				Reason: v.Decision.String(),
				Value:  v.AttemptedValue,
			})
		}
		out.Hooks = append(out.Hooks, jh)
	}
	out.Response = jsonResponse{
		Status:      res.Response.Status,
		StatusText:  res.Response.StatusText,
		ContentType: res.Response.ContentType,
		Binary:      res.Response.Binary,
	}
	for _, pair := range res.Response.Headers.Pairs() {
		out.Response.Headers = append(out.Response.Headers, []string{pair[0], pair[1]})
	}
	if !res.Response.Binary {
		out.Response.Body = string(res.Response.Body)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printResultSummary(w io.Writer, model detect.ExecutionModel, res *runner.FullFlowResult) {
	fmt.Fprintln(w, headingStyle.Render("wasmdbg")+" "+dimStyle.Render(model.String()))
	fmt.Fprintln(w)

	for _, hr := range res.Hooks {
		fmt.Fprint(w, hookStyle.Render(hr.Hook))
		switch {
		case hr.Err != nil:
			fmt.Fprintf(w, "  %s\n", failStyle.Render(hr.Err.Error()))
		case hr.ReturnCode != nil:
			line := okStyle.Render(hr.ReturnCode.String())
			if hr.Resumes > 0 {
				line += dimStyle.Render(fmt.Sprintf("  (%d resumes)", hr.Resumes))
			}
			if hr.Deferred {
				line += warnStyle.Render("  deferred")
			}
			fmt.Fprintf(w, "  %s\n", line)
		default:
			fmt.Fprintln(w)
		}
		for _, log := range hr.Logs {
			fmt.Fprintf(w, "    %s\n", dimStyle.Render(log))
		}
		for _, v := range hr.Violations {
			fmt.Fprintf(w, "    %s\n", warnStyle.Render(formatViolation(v)))
		}
		printHeaderMutations(w, hr)
	}

	fmt.Fprintln(w)
	statusStyle := okStyle
	if res.Response.Status >= 400 {
		statusStyle = failStyle
	}
	fmt.Fprintf(w, "%s %s\n", headingStyle.Render("response"),
		statusStyle.Render(fmt.Sprintf("%d %s", res.Response.Status, res.Response.StatusText)))
	for _, pair := range res.Response.Headers.Pairs() {
		fmt.Fprintf(w, "  %s: %s\n", pair[0], pair[1])
	}
	if len(res.Response.Body) > 0 {
		if res.Response.Binary {
			fmt.Fprintf(w, "  %s\n", dimStyle.Render(fmt.Sprintf("<%d bytes of binary body>", len(res.Response.Body))))
		} else {
			fmt.Fprintf(w, "\n%s\n", string(res.Response.Body))
		}
	}

	if len(res.Properties) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headingStyle.Render("computed properties"))
		paths := make([]string, 0, len(res.Properties))
		for p := range res.Properties {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			fmt.Fprintf(w, "  %s = %s\n", p, res.Properties[p])
		}
	}
}

func formatViolation(v property.Violation) string {
	return fmt.Sprintf("denied %s of %s (%s)", v.Kind, v.Path, v.Decision)
}

// printHeaderMutations diffs the hook's before/after header snapshots.
func printHeaderMutations(w io.Writer, hr *runner.HookResult) {
	if hr.Before == nil || hr.After == nil {
		return
	}
	for _, line := range diffHeaders("request", hr.Before.RequestHeaders, hr.After.RequestHeaders) {
		fmt.Fprintf(w, "    %s\n", line)
	}
	for _, line := range diffHeaders("response", hr.Before.ResponseHeaders, hr.After.ResponseHeaders) {
		fmt.Fprintf(w, "    %s\n", line)
	}
}

func diffHeaders(label string, before, after *runner.Headers) []string {
	var out []string
	for _, key := range after.Keys() {
		bv := strings.Join(before.Values(key), ", ")
		av := strings.Join(after.Values(key), ", ")
		if !before.Has(key) {
			out = append(out, okStyle.Render(fmt.Sprintf("+ %s header %s: %s", label, key, av)))
		} else if bv != av {
			out = append(out, warnStyle.Render(fmt.Sprintf("~ %s header %s: %s -> %s", label, key, bv, av)))
		}
	}
	for _, key := range before.Keys() {
		if !after.Has(key) {
			out = append(out, failStyle.Render(fmt.Sprintf("- %s header %s", label, key)))
		}
	}
	return out
}
