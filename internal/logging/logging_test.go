package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"DEBUG", zapcore.DebugLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewTeesExtraCores(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	logger, err := New(Options{Level: "error"}, core)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("to activity", zap.String("k", "v"))

	if logs.Len() != 1 {
		t.Fatalf("extra core got %d entries, want 1", logs.Len())
	}
	if logs.All()[0].Message != "to activity" {
		t.Errorf("unexpected message %q", logs.All()[0].Message)
	}

	if _, err := New(Options{Level: "nope"}); err == nil {
		t.Error("expected error for bad level")
	}
}
