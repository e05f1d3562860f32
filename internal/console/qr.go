// Package console renders pairing QR codes for the operator.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mdp/qrterminal"
	"golang.org/x/term"
)

// QRPrinter writes QR codes to a terminal or log stream.
type QRPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	half bool
}

// NewQRPrinter prints to w, using compact half blocks when w is a terminal.
func NewQRPrinter(w io.Writer) *QRPrinter {
	f, ok := w.(*os.File)
	return &QRPrinter{w: w, half: ok && term.IsTerminal(int(f.Fd()))}
}

// Print renders code followed by a short instruction.
func (p *QRPrinter) Print(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w, "Scan this QR code with WhatsApp (Linked devices):")
	if p.half {
		qrterminal.GenerateHalfBlock(code, qrterminal.L, p.w)
		return
	}
	qrterminal.Generate(code, qrterminal.L, p.w)
}

// Personal.AI order the ending
