package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// getJSON fetches path and pretty-prints the JSON response.
func getJSON(base BaseURLFunc, path string) error {
	resp, err := http.Get(base() + path)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

// postJSON posts body to path and pretty-prints the JSON response.
func postJSON(base BaseURLFunc, path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(base()+path, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(raw) > 0 {
		var v any
		if json.Unmarshal(raw, &v) == nil {
			pretty, _ := json.MarshalIndent(v, "", "  ")
			fmt.Fprintln(os.Stdout, string(pretty))
		} else {
			fmt.Fprintln(os.Stdout, strings.TrimSpace(string(raw)))
		}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

// parsePayload accepts inline JSON or @file syntax.
func parsePayload(s string) (json.RawMessage, error) {
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "@") {
		b, err := os.ReadFile(strings.TrimPrefix(s, "@"))
		if err != nil {
			return nil, err
		}
		s = string(b)
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(s), nil
}

// parseMetadata turns key=value pairs into a map.
func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("metadata must be key=value, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}
