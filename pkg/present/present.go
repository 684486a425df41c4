// Package present renders pairing codes for a human operator.
package present

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mdp/qrterminal/v3"
)

// Presenter shows pairing codes. Implementations are called from the event
// pump and must not block for long.
type Presenter interface {
	LinkCode(code string)
	QRCode(code string)
}

// Terminal prints link codes as text and QR codes as half-block art.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
	// PlainQR disables the QR art and prints the raw QR data only.
	PlainQR bool
}

// NewTerminal returns a presenter writing to w, or to stdout when w is nil.
func NewTerminal(w io.Writer) *Terminal {
	if w == nil {
		w = os.Stdout
	}
	return &Terminal{w: w}
}

// LinkCode prints the pairing code on its own line.
func (t *Terminal) LinkCode(code string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, code)
}

// QRCode prints the code and renders it as a QR code unless PlainQR is set.
func (t *Terminal) QRCode(code string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, code)
	if t.PlainQR {
		return
	}
	qrterminal.GenerateHalfBlock(code, qrterminal.L, t.w)
}

// Func adapts two functions to a Presenter. Nil functions are skipped.
type Func struct {
	OnLinkCode func(code string)
	OnQRCode   func(code string)
}

func (f Func) LinkCode(code string) {
	if f.OnLinkCode != nil {
		f.OnLinkCode(code)
	}
}

func (f Func) QRCode(code string) {
	if f.OnQRCode != nil {
		f.OnQRCode(code)
	}
}
