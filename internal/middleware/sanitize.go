package middleware

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/url"
)

// Placeholders written instead of a body.
const (
	BodyNotLogged      = "[not logged]"
	BodyUnparseable    = "[unparseable body]"
	BodyTruncated      = "[body truncated]"
	BodyUnserializable = "[unserializable]"
)

// redactedFields are removed from the top level of logged bodies. Matching is exact
// and case-sensitive.
var redactedFields = []string{"password", "token"}

// SanitizeBody renders a request or response body for logging. JSON objects and
// urlencoded forms lose their redacted fields; other payloads are replaced by a
// placeholder. An empty body renders as {}.
func SanitizeBody(contentType string, body []byte, truncated bool) string {
	if truncated {
		return BodyTruncated
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "{}"
	}

	var v any
	if isForm(contentType) {
		form, err := url.ParseQuery(string(trimmed))
		if err != nil {
			return BodyUnparseable
		}
		obj := make(map[string]any, len(form))
		for k, vals := range form {
			if len(vals) == 1 {
				obj[k] = vals[0]
			} else {
				obj[k] = vals
			}
		}
		v = obj
	} else {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil || dec.More() {
			return BodyUnparseable
		}
	}

	if obj, ok := v.(map[string]any); ok {
		for _, f := range redactedFields {
			delete(obj, f)
		}
	}
	out, err := json.Marshal(v)
	if err != nil {
		return BodyUnserializable
	}
	return string(out)
}

func isForm(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/x-www-form-urlencoded"
}
