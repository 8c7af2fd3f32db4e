package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestLoadScenario(t *testing.T) {
	sc, err := loadScenario("testdata/partial.toml")
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	if sc.Name != "partial write" {
		t.Fatalf("unexpected name: %q", sc.Name)
	}
	if sc.MemoryPages != 1 {
		t.Fatalf("unexpected memory pages: %d", sc.MemoryPages)
	}
	if len(sc.Instances) != 2 || len(sc.Types) != 2 {
		t.Fatalf("unexpected instances/types: %d/%d", len(sc.Instances), len(sc.Types))
	}
	if len(sc.Steps) != 8 {
		t.Fatalf("unexpected step count: %d", len(sc.Steps))
	}
	if got := sc.Steps[2].Values; len(got) != 5 || got[0] != int64(1) {
		t.Fatalf("unexpected write values: %#v", got)
	}
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{
			name: "missing name",
			data: `
[[instances]]
name = "a"
[[steps]]
op = "new"
instance = "a"`,
			want: "Name",
		},
		{
			name: "unknown op",
			data: `
name = "x"
[[instances]]
name = "a"
[[steps]]
op = "explode"
instance = "a"`,
			want: "Op",
		},
		{
			name: "bad elem",
			data: `
name = "x"
[[instances]]
name = "a"
[[types]]
instance = "a"
kind = "stream"
elem = "u128"
[[steps]]
op = "new"
instance = "a"`,
			want: "Elem",
		},
		{
			name: "duplicate instance",
			data: `
name = "x"
[[instances]]
name = "a"
[[instances]]
name = "a"
[[steps]]
op = "new"
instance = "a"`,
			want: "Instances",
		},
		{
			name: "unknown instance",
			data: `
name = "x"
[[instances]]
name = "a"
[[steps]]
op = "new"
instance = "b"`,
			want: `unknown instance "b"`,
		},
		{
			name: "unbound handle",
			data: `
name = "x"
[[instances]]
name = "a"
[[steps]]
op = "read"
handle = "r"`,
			want: `"r" is not bound`,
		},
		{
			name: "malformed toml",
			data: `name = `,
			want: "decode scenario",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseScenario(tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestScenarioSchema(t *testing.T) {
	out, err := scenarioSchema()
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	props, ok := doc["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties: %s", out)
	}
	for _, key := range []string{"name", "instances", "types", "steps"} {
		if _, ok := props[key]; !ok {
			t.Errorf("schema missing property %q", key)
		}
	}
}

func runScenario(t *testing.T, path string) []stepResult {
	t.Helper()
	ctx := context.Background()
	sc, err := loadScenario(path)
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	r, err := newRunner(ctx, sc, zap.NewNop())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	defer r.Close(ctx)

	var results []stepResult
	if err := r.Run(func(res stepResult) { results = append(results, res) }); err != nil {
		t.Fatalf("run: %v", err)
	}
	return results
}

func TestRunner_PartialWrite(t *testing.T) {
	results := runScenario(t, "testdata/partial.toml")

	if got := results[3].Status; got != "3 [1 2 3]" {
		t.Errorf("first read = %q", got)
	}
	if got := results[4].Status; got != "2 [4 5]" {
		t.Errorf("second read = %q", got)
	}
	notes := strings.Join(results[4].Notes, "\n")
	if !strings.Contains(notes, "producer: stream-write handle 1 5") {
		t.Errorf("writer completion not reported: %q", notes)
	}
}

func TestRunner_HostFuture(t *testing.T) {
	results := runScenario(t, "testdata/host.toml")

	notes := strings.Join(results[3].Notes, "\n")
	if !strings.Contains(notes, "guest: future-read handle 1 1 [ready]") {
		t.Errorf("guest read completion not reported: %q", notes)
	}
	if !strings.Contains(notes, "host write f: count 1") {
		t.Errorf("host write resolution not reported: %q", notes)
	}
}

func TestRunner_Expectation(t *testing.T) {
	ctx := context.Background()
	sc, err := parseScenario(`
name = "wrong expectation"
[[instances]]
name = "a"
[[types]]
instance = "a"
kind = "stream"
elem = "u8"
[[steps]]
op = "new"
instance = "a"
bind = "w"
[[steps]]
op = "write"
handle = "w"
values = [1]
expect = "1"
[[steps]]
op = "read"
handle = "w"
expect = "error"
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r, err := newRunner(ctx, sc, zap.NewNop())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	defer r.Close(ctx)

	r.Step()
	res := r.Step()
	if res.Err == nil || !strings.Contains(res.Err.Error(), "expected 1, got blocked") {
		t.Fatalf("expectation error = %v", res.Err)
	}
	res = r.Step()
	if res.Err != nil || res.Status != "error" {
		t.Fatalf("expected failure not accepted: %+v", res)
	}
}
