package telemetry

import (
	"context"
	"testing"

	"github.com/coachpo/dcaflow/internal/config"
)

func TestInitNoopWithoutEndpoint(t *testing.T) {
	provider, shutdown, err := Init(context.Background(), config.TelemetryConfig{OTLPEndpoint: "", ServiceName: ""})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if provider == nil {
		t.Fatal("expected a provider")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		in       string
		host     string
		insecure bool
		wantErr  bool
	}{
		{"collector:4318", "collector:4318", false, false},
		{"http://collector:4318", "collector:4318", true, false},
		{"https://collector:4318", "collector:4318", false, false},
		{"ftp://collector", "", false, true},
		{"http://", "", false, true},
	}
	for _, tc := range cases {
		host, insecure, err := parseEndpoint(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseEndpoint(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseEndpoint(%q): %v", tc.in, err)
			continue
		}
		if host != tc.host || insecure != tc.insecure {
			t.Errorf("parseEndpoint(%q) = (%q,%v), want (%q,%v)", tc.in, host, insecure, tc.host, tc.insecure)
		}
	}
}
