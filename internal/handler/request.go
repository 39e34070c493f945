package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const maxBodyBytes = 1 << 16

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]any{"ok": false, "reason": reason})
}

// readFields collects flat key/value input from a JSON object, a urlencoded
// form, or a text/plain body holding a query string. EA clients send all three.
func readFields(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)

	switch mediaType {
	case "application/json":
		dec := json.NewDecoder(body)
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		vals := url.Values{}
		for k, v := range obj {
			switch v := v.(type) {
			case string:
				vals.Set(k, v)
			case json.Number:
				vals.Set(k, numberString(v))
			case bool:
				vals.Set(k, fmt.Sprint(v))
			}
		}
		return vals, nil

	case "text/plain":
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		vals, err := url.ParseQuery(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("parse text body: %w", err)
		}
		return vals, nil

	default:
		r.Body = body
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		return r.PostForm, nil
	}
}

// numberString renders a JSON number in plain decimal so that exponent forms
// such as 1.2e7 reach identity parsing as 12000000.
func numberString(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if f, err := n.Float64(); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return n.String()
}
