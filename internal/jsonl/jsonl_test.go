package jsonl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForEachLineSkipsBlankLines(t *testing.T) {
	input := `{"custom_id":"req-1","method":"POST","url":"/v1/chat/completions","body":{"model":"m"}}

{"custom_id":"req-2","method":"POST","url":"/v1/chat/completions","body":{"model":"m"}}
`
	var ids []string
	err := ForEachLine(strings.NewReader(input), func(lineNo int, line RequestLine) error {
		ids = append(ids, line.CustomID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"req-1", "req-2"}, ids)
}

func TestForEachLineReportsParseError(t *testing.T) {
	err := ForEachLine(strings.NewReader("not json\n"), func(int, RequestLine) error { return nil })
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Line)
}

func TestForEachResultLine(t *testing.T) {
	input := `{"id":"r1","custom_id":"req-1","response":{"status_code":200,"body":{"ok":true}}}
{"id":"r2","custom_id":"req-2","error":{"code":"x","message":"bad"}}
`
	var lines []ResultLine
	err := ForEachResultLine(strings.NewReader(input), func(_ int, line ResultLine) error {
		lines = append(lines, line)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "req-1", lines[0].CustomID)
	assert.Equal(t, 200, lines[0].Response.StatusCode)
	assert.Equal(t, "bad", lines[1].Error.Message)
}

func TestMarshalLineAppendsNewline(t *testing.T) {
	b, err := MarshalLine(map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(b), "\n"))
}

func TestFilterMetadataDropsKeys(t *testing.T) {
	out, err := FilterMetadata(`{"webhook_url":"https://x","keep":"me"}`, "webhook_url")
	require.NoError(t, err)
	assert.NotContains(t, out, "webhook_url")
	assert.Contains(t, out, `"keep":"me"`)
}

func TestFilterMetadataEmptyInput(t *testing.T) {
	out, err := FilterMetadata("", "webhook_url")
	require.NoError(t, err)
	assert.Equal(t, "", out)
}
