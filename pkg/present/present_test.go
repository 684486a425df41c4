package present

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTerminalLinkCode(t *testing.T) {
	var buf bytes.Buffer
	NewTerminal(&buf).LinkCode("ABC-123")
	assert.Equal(t, "ABC-123\n", buf.String())
}

func TestTerminalQRCode(t *testing.T) {
	var buf bytes.Buffer
	NewTerminal(&buf).QRCode("2@payload")
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "2@payload\n"))
	assert.Greater(t, len(out), len("2@payload\n"), "QR art follows the raw code")

	buf.Reset()
	term := NewTerminal(&buf)
	term.PlainQR = true
	term.QRCode("2@payload")
	assert.Equal(t, "2@payload\n", buf.String())
}

func TestFuncSkipsNil(t *testing.T) {
	var got []string
	p := Func{OnQRCode: func(code string) { got = append(got, code) }}
	p.LinkCode("ignored")
	p.QRCode("qr")
	assert.Equal(t, []string{"qr"}, got)
}
