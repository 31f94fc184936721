package logging

import (
	"bytes"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
		{" warn ", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"unknown", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", &buf)
	log.Info("hello", zap.String("key", "value"))
	log.Debug("hidden")

	if buf.Len() == 0 {
		t.Fatal("expected log output, got nothing")
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"msg":"hello"`)) {
		t.Errorf("expected JSON msg field, got: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"key":"value"`)) {
		t.Errorf("expected key field, got: %s", buf.String())
	}
	if bytes.Contains(buf.Bytes(), []byte("hidden")) {
		t.Errorf("debug entry written at info level: %s", buf.String())
	}
}
