package monitoring

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var buf bytes.Buffer
	SetLogger(log.New(&buf, "[progress] ", 0).Printf)
	Logf("batch %d", 7)
	if got := buf.String(); !strings.Contains(got, "[progress] batch 7") {
		t.Errorf("custom logger output = %q", got)
	}

	buf.Reset()
	SetLogger(nil)
	Logf("dropped")
	if buf.Len() != 0 {
		t.Errorf("no-op logger wrote %q", buf.String())
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should not be nil by default")
	}
}
