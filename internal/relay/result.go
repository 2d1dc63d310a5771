package relay

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// TruncatedKey lists the paths a Redactor changed.
const TruncatedKey = "_truncated"

const redacted = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"api_key":               {},
	"token":                 {},
	"secret":                {},
	"password":              {},
	"presigned_url":         {},
	"aws_secret_access_key": {},
}

// Redactor caps and scrubs job results before they reach a consumer.
// Nothing is dropped silently: every changed path is listed under
// TruncatedKey.
type Redactor struct {
	// MaxFieldBytes caps any single string; 0 disables.
	MaxFieldBytes int
	// MaxResultBytes caps the JSON size of the whole result; 0 disables.
	MaxResultBytes int
	// MaxItems caps arrays; 0 means 100.
	MaxItems int
}

// Redact returns a scrubbed deep copy of result.
func (r Redactor) Redact(result map[string]any) map[string]any {
	if result == nil {
		return nil
	}
	if r.MaxItems <= 0 {
		r.MaxItems = 100
	}
	var paths []string
	out := r.walk(result, "", &paths).(map[string]any)
	delete(out, TruncatedKey)

	if r.MaxResultBytes > 0 {
		omitted := map[string]bool{}
		for jsonSize(out) > r.MaxResultBytes {
			key, size := "", 0
			for _, k := range sortedKeys(out) {
				if omitted[k] {
					continue
				}
				if n := jsonSize(out[k]); n > size {
					key, size = k, n
				}
			}
			if key == "" {
				break
			}
			out[key] = fmt.Sprintf("[omitted %d bytes]", size)
			omitted[key] = true
			paths = append(paths, key)
		}
	}

	if len(paths) > 0 {
		sort.Strings(paths)
		list := make([]any, 0, len(paths))
		for i, p := range paths {
			if i > 0 && p == paths[i-1] {
				continue
			}
			list = append(list, p)
		}
		out[TruncatedKey] = list
	}
	return out
}

func (r Redactor) walk(v any, path string, paths *[]string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			p := joinPath(path, k)
			if _, ok := sensitiveKeys[strings.ToLower(k)]; ok {
				out[k] = redacted
				*paths = append(*paths, p)
				continue
			}
			out[k] = r.walk(val, p, paths)
		}
		return out
	case []any:
		n := len(t)
		keep := n
		if n > r.MaxItems {
			keep = r.MaxItems
			*paths = append(*paths, path)
		}
		out := make([]any, 0, keep+1)
		for i := 0; i < keep; i++ {
			out = append(out, r.walk(t[i], path+"["+strconv.Itoa(i)+"]", paths))
		}
		if keep < n {
			out = append(out, fmt.Sprintf("…[%d more items]", n-keep))
		}
		return out
	case string:
		if r.MaxFieldBytes > 0 && len(t) > r.MaxFieldBytes {
			*paths = append(*paths, path)
			return truncateString(t, r.MaxFieldBytes)
		}
		return t
	default:
		return v
	}
}

// truncateString cuts s to at most max bytes on a rune boundary and appends
// a marker naming the dropped byte count.
func truncateString(s string, max int) string {
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("…[truncated %d bytes]", len(s)-cut)
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func jsonSize(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}
