package testutils

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// AnyValue in expected JSON matches whatever value the actual document holds
const AnyValue = "<<ANY>>"

type JSONAssertOptions struct {
	IgnoreExtraKeys  bool     `default:"true"`
	AllowAnyValue    bool     `default:"true"`
	IgnoreArrayOrder bool     `default:"false"`
	IgnoredFields    []string `default:""`
}

// JSONOption configures a JSONAsserter
type JSONOption func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally and reports a gojsondiff delta
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

func (ja *JSONAsserter) WithOptions(opts ...JSONOption) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert fails the test when actualJSON does not match expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	if diff := ja.diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

func (ja *JSONAsserter) diff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects at the root
	if _, ok := expected.([]interface{}); ok {
		expected = map[string]interface{}{"array": expected}
		actual = map[string]interface{}{"array": actual}
	}

	walkPair(expected, actual, func(exp, act map[string]interface{}) {
		for _, field := range ja.options.IgnoredFields {
			delete(exp, field)
			delete(act, field)
		}
		if ja.options.AllowAnyValue {
			for k, v := range exp {
				if s, ok := v.(string); ok && s == AnyValue {
					if av, present := act[k]; present {
						exp[k] = av
					}
				}
			}
		}
	})
	if ja.options.IgnoreArrayOrder {
		sortArrays(expected)
		sortArrays(actual)
	}
	if ja.options.IgnoreExtraKeys {
		walkPair(expected, actual, func(exp, act map[string]interface{}) {
			for k := range act {
				if _, ok := exp[k]; !ok {
					delete(act, k)
				}
			}
		})
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)
	delta, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !delta.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(delta)
	return out
}

// walkPair calls fn for every pair of objects found at the same path in both documents
func walkPair(expected, actual interface{}, fn func(exp, act map[string]interface{})) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		fn(exp, act)
		for k := range exp {
			walkPair(exp[k], act[k], fn)
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				walkPair(exp[i], act[i], fn)
			}
		}
	}
}

// sortArrays orders every array by the JSON encoding of its elements
func sortArrays(data interface{}) {
	switch v := data.(type) {
	case map[string]interface{}:
		for key := range v {
			sortArrays(v[key])
		}
	case []interface{}:
		for _, elem := range v {
			sortArrays(elem)
		}
		sort.Slice(v, func(i, j int) bool {
			a, _ := json.Marshal(v[i])
			b, _ := json.Marshal(v[j])
			return string(a) < string(b)
		})
	}
}

func WithIgnoreExtraKeys(ignore bool) JSONOption {
	return func(opts *JSONAssertOptions) { opts.IgnoreExtraKeys = ignore }
}

func WithIgnoreArrayOrder(ignore bool) JSONOption {
	return func(opts *JSONAssertOptions) { opts.IgnoreArrayOrder = ignore }
}

// WithIgnoredFields drops the named keys at every level of both documents
func WithIgnoredFields(fields ...string) JSONOption {
	return func(opts *JSONAssertOptions) { opts.IgnoredFields = fields }
}
