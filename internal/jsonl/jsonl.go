// Package jsonl provides the request/result JSONL line shapes spec
// section 3 defines, plus helpers for reading a file as a stream of
// lines and filtering opaque metadata maps without a struct round-trip.
package jsonl

import (
	"bufio"
	"io"

	"github.com/bytedance/sonic"
	"github.com/tidwall/sjson"
)

// RequestLine is a single line of an input batch file.
type RequestLine struct {
	CustomID string         `json:"custom_id"`
	Method   string         `json:"method"`
	URL      string         `json:"url"`
	Body     map[string]any `json:"body"`
}

// ResultLine is a single line written to the output (or error) file.
type ResultLine struct {
	ID       string          `json:"id"`
	CustomID string          `json:"custom_id"`
	Response *ResultResponse `json:"response,omitempty"`
	Error    *ResultError    `json:"error,omitempty"`
}

type ResultResponse struct {
	StatusCode int            `json:"status_code"`
	RequestID  string         `json:"request_id,omitempty"`
	Body       map[string]any `json:"body"`
}

type ResultError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ForEachLine scans r line by line, skipping blank lines, calling fn
// with each decoded RequestLine. Parse errors are reported with the
// 1-indexed line number so the caller can surface a useful error.
func ForEachLine(r io.Reader, fn func(lineNo int, line RequestLine) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line RequestLine
		if err := sonic.Unmarshal(raw, &line); err != nil {
			return &ParseError{Line: lineNo, Err: err}
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// ForEachResultLine scans r line by line as ResultLines, the output-file
// counterpart to ForEachLine. Used on restart to rebuild the set of
// custom_ids a batch has already produced results for.
func ForEachResultLine(r io.Reader, fn func(lineNo int, line ResultLine) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line ResultLine
		if err := sonic.Unmarshal(raw, &line); err != nil {
			return &ParseError{Line: lineNo, Err: err}
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return "jsonl: parse error on line " + itoa(e.Line) + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// MarshalLine serializes v and appends a trailing newline.
func MarshalLine(v any) ([]byte, error) {
	b, err := sonic.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// FilterMetadata returns a copy of a batch's raw metadata JSON with the
// given keys removed, used by result handlers (e.g. the webhook
// payload) that must not leak internal bookkeeping keys like
// "webhook_url" back out to the caller.
func FilterMetadata(metadataJSON string, drop ...string) (string, error) {
	out := metadataJSON
	if out == "" {
		return out, nil
	}
	var err error
	for _, k := range drop {
		out, err = sjson.Delete(out, k)
		if err != nil {
			return "", err
		}
	}
	return out, nil
}
