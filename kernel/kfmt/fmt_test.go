package kfmt

import (
	"bytes"
	"testing"
)

func TestPrintf(t *testing.T) {
	defer SetOutputSink(nil)

	t.Run("buffered before sink is attached", func(t *testing.T) {
		SetOutputSink(nil)
		earlyPrintBuffer.rIndex, earlyPrintBuffer.wIndex = 0, 0

		Printf("frame %d; page 0x%x", 3, 255)

		var buf bytes.Buffer
		SetOutputSink(&buf)

		if exp, got := "frame 3; page 0xff", buf.String(); got != exp {
			t.Fatalf("expected sink to receive %q; got %q", exp, got)
		}

		if got := earlyPrintBuffer.Len(); got != 0 {
			t.Fatalf("expected early buffer to be drained; %d bytes remain", got)
		}
	})

	t.Run("writes to attached sink", func(t *testing.T) {
		var buf bytes.Buffer
		SetOutputSink(&buf)

		Printf("%s=%t", "valid", true)

		if exp, got := "valid=true", buf.String(); got != exp {
			t.Fatalf("expected to get %q; got %q", exp, got)
		}
	})
}

func TestDebugf(t *testing.T) {
	defer func() {
		SetOutputSink(nil)
		SetDebugFlags("")
	}()

	specs := []struct {
		flags  string
		flag   byte
		expOut string
	}{
		{"", 'a', ""},
		{"a", 'a', "trace"},
		{"am", 'm', "trace"},
		{"m", 'a', ""},
		{"+", 's', "trace"},
	}

	var buf bytes.Buffer
	SetOutputSink(&buf)

	for specIndex, spec := range specs {
		buf.Reset()
		SetDebugFlags(spec.flags)

		Debugf(spec.flag, "trace")

		if got := buf.String(); got != spec.expOut {
			t.Errorf("[spec %d] expected output %q; got %q", specIndex, spec.expOut, got)
		}
	}
}
