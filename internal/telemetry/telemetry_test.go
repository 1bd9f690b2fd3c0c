package telemetry

import (
	"context"
	"testing"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := Init(context.Background(), "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}

func TestSplitEndpoint(t *testing.T) {
	cases := []struct {
		raw      string
		endpoint string
		insecure bool
	}{
		{raw: "http://collector:4318", endpoint: "collector:4318", insecure: true},
		{raw: "https://otel.example.com/", endpoint: "otel.example.com", insecure: false},
		{raw: "collector:4318", endpoint: "collector:4318", insecure: true},
	}
	for _, tc := range cases {
		endpoint, insecure := splitEndpoint(tc.raw)
		if endpoint != tc.endpoint || insecure != tc.insecure {
			t.Fatalf("splitEndpoint(%q) = %q %t", tc.raw, endpoint, insecure)
		}
	}
}

func TestSamplerRatio(t *testing.T) {
	for raw, want := range map[string]float64{"": 1, "0.25": 0.25, "2": 1, "abc": 1} {
		t.Setenv("OTEL_TRACES_SAMPLER_RATIO", raw)
		if got := samplerRatio(); got != want {
			t.Fatalf("samplerRatio(%q) = %v, want %v", raw, got, want)
		}
	}
}
