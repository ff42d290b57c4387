package testutils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TextAssertOptions controls how CLI output is normalized before comparison.
type TextAssertOptions struct {
	TrimSpace                bool `default:"true"`
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreEmptyLines         bool `default:"false"`
	// StripANSI removes terminal escape sequences from the actual output, so
	// colored status labels compare equal to plain expectations.
	StripANSI    bool `default:"true"`
	EnableColors bool `default:"false"`
}

// TextOption configures a TextAsserter.
type TextOption func(*TextAssertOptions)

func WithTrimSpace(v bool) TextOption {
	return func(o *TextAssertOptions) { o.TrimSpace = v }
}

func WithIgnoreTrailingWhitespace(v bool) TextOption {
	return func(o *TextAssertOptions) { o.IgnoreTrailingWhitespace = v }
}

func WithIgnoreEmptyLines(v bool) TextOption {
	return func(o *TextAssertOptions) { o.IgnoreEmptyLines = v }
}

func WithStripANSI(v bool) TextOption {
	return func(o *TextAssertOptions) { o.StripANSI = v }
}

// WithEnableColors renders the diff in color with visible spaces on changed lines.
func WithEnableColors(v bool) TextOption {
	return func(o *TextAssertOptions) { o.EnableColors = v }
}

var ansiSequence = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// TextAsserter compares rendered CLI output line by line and reports a
// unified diff of expected vs actual.
type TextAsserter struct {
	t       TestingT
	options TextAssertOptions
}

func NewTextAsserter(t TestingT) *TextAsserter {
	ta := &TextAsserter{t: t}
	defaults.SetDefaults(&ta.options)
	return ta
}

func (ta *TextAsserter) WithOptions(opts ...TextOption) *TextAsserter {
	for _, apply := range opts {
		apply(&ta.options)
	}
	return ta
}

// Assert reports a failure through t when actual differs from expected.
func (ta *TextAsserter) Assert(actual, expected string) bool {
	ta.t.Helper()
	diff := ta.Diff(actual, expected)
	if diff == "" {
		return true
	}
	ta.t.Errorf("Text assertion failed:\n%s", diff)
	return false
}

// Diff returns "" when the normalized texts match.
func (ta *TextAsserter) Diff(actual, expected string) string {
	if ta.options.StripANSI {
		actual = ansiSequence.ReplaceAllString(actual, "")
	}
	want, got := ta.lines(expected), ta.lines(actual)
	if want == got {
		return ""
	}

	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", want, myers.ComputeEdits("", want, got)))
	if ta.options.EnableColors {
		return highlight(unified)
	}
	return unified
}

// lines applies the line filters and joins the result back.
func (ta *TextAsserter) lines(text string) string {
	if ta.options.TrimSpace {
		text = strings.TrimSpace(text)
	}
	src := strings.Split(text, "\n")
	kept := src[:0]
	for _, line := range src {
		if ta.options.IgnoreTrailingWhitespace {
			line = strings.TrimRight(line, " \t\r")
		}
		if ta.options.IgnoreEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// lineStyle colors diff lines starting with one of prefixes; dots makes
// spaces visible.
type lineStyle struct {
	prefixes []string
	color    *color.Color
	dots     bool
}

func highlight(diff string) string {
	styles := []lineStyle{
		{[]string{"---", "+++", "@@"}, color.New(color.FgCyan), false},
		{[]string{"-"}, color.New(color.FgRed), true},
		{[]string{"+"}, color.New(color.FgGreen), true},
	}
	for _, st := range styles {
		st.color.EnableColor()
	}

	var b strings.Builder
	for i, line := range strings.Split(diff, "\n") {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(styleLine(line, styles))
	}
	return b.String()
}

func styleLine(line string, styles []lineStyle) string {
	for _, st := range styles {
		for _, p := range st.prefixes {
			if !strings.HasPrefix(line, p) {
				continue
			}
			if st.dots {
				line = strings.ReplaceAll(line, " ", "·")
			}
			return st.color.Sprint(line)
		}
	}
	return line
}
