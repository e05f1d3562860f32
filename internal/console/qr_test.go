package console

import (
	"bytes"
	"strings"
	"testing"
)

func TestQRPrinter_WritesCode(t *testing.T) {
	var buf bytes.Buffer
	p := NewQRPrinter(&buf)
	if p.half {
		t.Fatal("A buffer is not a terminal")
	}

	p.Print("2@AbCdEf,GhIjKl,MnOp=")

	out := buf.String()
	if !strings.HasPrefix(out, "Scan this QR code") {
		t.Errorf("Missing instruction line: %q", out)
	}
	if lines := strings.Count(out, "\n"); lines < 20 {
		t.Errorf("Expected a full QR block, got %d lines", lines)
	}
}
