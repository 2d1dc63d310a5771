package relay

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
)

func TestRedactScrubsAndTruncates(t *testing.T) {
	r := Redactor{MaxFieldBytes: 10, MaxItems: 3}
	in := map[string]any{
		"summary": "short",
		"Token":   "abc",
		"content": strings.Repeat("x", 25),
		"pages":   []any{1.0, 2.0, 3.0, 4.0, 5.0},
		"meta":    map[string]any{"password": "p", "source": "upload"},
	}
	out := r.Redact(in)
	if out["Token"] != redacted || out["meta"].(map[string]any)["password"] != redacted {
		t.Fatalf("sensitive keys kept: %v", out)
	}
	if got := out["content"].(string); got != "xxxxxxxxxx…[truncated 15 bytes]" {
		t.Fatalf("content %q", got)
	}
	pages := out["pages"].([]any)
	if len(pages) != 4 || pages[3] != "…[2 more items]" {
		t.Fatalf("pages %v", pages)
	}
	want := []any{"Token", "content", "meta.password", "pages"}
	if diff := cmp.Diff(want, out[TruncatedKey]); diff != "" {
		t.Fatalf("paths (-want +got):\n%s", diff)
	}
	if in["Token"] != "abc" || len(in["pages"].([]any)) != 5 {
		t.Fatalf("input mutated")
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("é", 10) // 20 bytes
	got := truncateString(s, 5)
	prefix := strings.SplitN(got, "…", 2)[0]
	if !utf8.ValidString(prefix) || prefix != "éé" {
		t.Fatalf("prefix %q", prefix)
	}
	if !strings.HasSuffix(got, "[truncated 16 bytes]") {
		t.Fatalf("marker %q", got)
	}
}

func TestRedactOmitsLargestFieldsToFit(t *testing.T) {
	r := Redactor{MaxResultBytes: 200}
	in := map[string]any{
		"a":     strings.Repeat("a", 150),
		"b":     strings.Repeat("b", 120),
		"small": "ok",
	}
	out := r.Redact(in)
	b, _ := json.Marshal(out)
	if len(b) > 200+64 {
		t.Fatalf("result still %d bytes", len(b))
	}
	if out["a"] != "[omitted 152 bytes]" {
		t.Fatalf("largest field kept: %v", out["a"])
	}
	if out["small"] != "ok" {
		t.Fatalf("small field touched")
	}
	paths := out[TruncatedKey].([]any)
	if paths[0] != "a" {
		t.Fatalf("paths %v", paths)
	}
}

func TestRedactNil(t *testing.T) {
	if (Redactor{}).Redact(nil) != nil {
		t.Fatalf("nil result must stay nil")
	}
	out := (Redactor{}).Redact(map[string]any{"n": 1.0})
	if _, ok := out[TruncatedKey]; ok {
		t.Fatalf("untouched result must not list paths")
	}
}
