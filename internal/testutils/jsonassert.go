package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in an expected document matches any actual value,
// as long as the key exists.
const PresencePlaceholder = "<<PRESENCE>>"

// TestingT is the subset of testing.T the asserters report through.
type TestingT interface {
	Helper()
	Errorf(format string, args ...any)
}

// MustJSON marshals v or panics.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool     `default:"true"`
	AllowPresencePlaceholder bool     `default:"true"`
	IgnoredFields            []string `default:""`
}

// Option configures a JSONAsserter.
type Option func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally and reports a
// gojsondiff rendering on mismatch.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates an asserter with default options: extra keys in
// the actual document are ignored and presence placeholders are honored.
func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

func (ja *JSONAsserter) Options() JSONAssertOptions {
	return ja.options
}

// Assert compares actualJSON against expectedJSON.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	ja.t.Helper()
	if diff := ja.Diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
		return false
	}
	return true
}

// AssertValue marshals actual and compares it against expectedJSON.
func (ja *JSONAsserter) AssertValue(actual any, expectedJSON string) bool {
	ja.t.Helper()
	data, err := json.Marshal(actual)
	if err != nil {
		ja.t.Errorf("cannot marshal actual value: %v", err)
		return false
	}
	return ja.Assert(string(data), expectedJSON)
}

// Diff returns an empty string when the documents match.
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only.
	if _, ok := expected.([]any); ok {
		expected = map[string]any{"array": expected}
		actual = map[string]any{"array": actual}
	}

	if ja.options.AllowPresencePlaceholder {
		fillPlaceholders(expected, actual)
	}
	for _, field := range ja.options.IgnoredFields {
		dropField(expected, field)
		dropField(actual, field)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	var left map[string]any
	_ = json.Unmarshal(expectedBytes, &left)
	out, _ := formatter.NewAsciiFormatter(left, formatter.AsciiFormatterConfig{ShowArrayIndex: true}).Format(diff)
	return out
}

// fillPlaceholders copies actual values over presence placeholders.
func fillPlaceholders(expected, actual any) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		for k, v := range exp {
			if s, ok := v.(string); ok && s == PresencePlaceholder {
				if av, present := act[k]; present {
					exp[k] = av
				}
				continue
			}
			fillPlaceholders(v, act[k])
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				fillPlaceholders(exp[i], act[i])
			}
		}
	}
}

func dropField(doc any, field string) {
	switch v := doc.(type) {
	case map[string]any:
		delete(v, field)
		for _, child := range v {
			dropField(child, field)
		}
	case []any:
		for _, child := range v {
			dropField(child, field)
		}
	}
}

// pruneExtraKeys removes keys of actual that expected does not mention.
func pruneExtraKeys(actual, expected any) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		for k := range act {
			if _, ok := exp[k]; !ok {
				delete(act, k)
			}
		}
		for k := range exp {
			pruneExtraKeys(act[k], exp[k])
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				pruneExtraKeys(act[i], exp[i])
			}
		}
	}
}

func WithIgnoreExtraKeys(ignore bool) Option {
	return func(opts *JSONAssertOptions) {
		opts.IgnoreExtraKeys = ignore
	}
}

func WithAllowPresencePlaceholder(allow bool) Option {
	return func(opts *JSONAssertOptions) {
		opts.AllowPresencePlaceholder = allow
	}
}

// WithIgnoredFields drops the named keys at every depth before comparing.
func WithIgnoredFields(fields ...string) Option {
	return func(opts *JSONAssertOptions) {
		opts.IgnoredFields = fields
	}
}
