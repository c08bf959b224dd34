package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthURL(t *testing.T) {
	tests := []struct {
		explicit, addr, want string
	}{
		{"", "", "http://localhost:8080/healthz"},
		{"", ":9090", "http://localhost:9090/healthz"},
		{"", "0.0.0.0:7000", "http://localhost:7000/healthz"},
		{"http://bot:1/healthz", ":9090", "http://bot:1/healthz"},
	}
	for _, tt := range tests {
		if got := healthURL(tt.explicit, tt.addr); got != tt.want {
			t.Errorf("healthURL(%q, %q) = %q, want %q", tt.explicit, tt.addr, got, tt.want)
		}
	}
}

func TestProbe(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	if !probe(context.Background(), srv.URL) {
		t.Fatal("probe failed against healthy server")
	}
	status = http.StatusServiceUnavailable
	if probe(context.Background(), srv.URL) {
		t.Fatal("probe passed against unhealthy server")
	}
	if probe(context.Background(), "http://127.0.0.1:1/healthz") {
		t.Fatal("probe passed with nothing listening")
	}
}
