package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		enabled zap.AtomicLevel
		wantErr bool
	}{
		{name: "development", cfg: Config{Development: true}},
		{name: "production", cfg: Config{}},
		{name: "explicit level", cfg: Config{Level: "warn"}},
		{name: "bad level", cfg: Config{Level: "loud"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			logger, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%+v) error = %v", tt.cfg, err)
			}
			defer logger.Sync() //nolint:errcheck // best-effort flush
			logger.Info("logger ready")
		})
	}
}

func TestNewHonorsLevel(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Level: "error"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(zap.WarnLevel) {
		t.Fatal("warn should be disabled at error level")
	}
	if !logger.Core().Enabled(zap.ErrorLevel) {
		t.Fatal("error should be enabled")
	}
}
