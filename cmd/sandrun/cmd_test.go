package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jkaninda/sandrun/internal/config"
	"github.com/jkaninda/sandrun/internal/domain"
	"github.com/jkaninda/sandrun/internal/executor"
)

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "http://localhost:8080", want: "ws://localhost:8080/v1/ws"},
		{in: "https://run.example.com/", want: "wss://run.example.com/v1/ws"},
		{in: "https://example.com/sandrun", want: "wss://example.com/sandrun/v1/ws"},
		{in: "ftp://example.com", wantErr: true},
	}
	for _, tt := range tests {
		got, err := websocketURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("websocketURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("websocketURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRequestFlags(t *testing.T) {
	f := requestFlags{params: "a, b", body: "return a + b;", argsFile: "-"}
	req, err := f.request(strings.NewReader("1, 2"))
	if err != nil {
		t.Fatalf("request() error = %v", err)
	}
	want := executor.Request{ParameterNames: "a, b", BodySource: "return a + b;", ArgumentsText: "1, 2"}
	if req != want {
		t.Errorf("request() = %+v, want %+v", req, want)
	}

	if _, err := (&requestFlags{}).request(strings.NewReader("")); err == nil {
		t.Error("request() without a body should fail")
	}
}

func TestPrintOutcome(t *testing.T) {
	var buf bytes.Buffer
	if err := printOutcome(&buf, domain.Success(int64(3))); err != nil {
		t.Fatalf("printOutcome(success) error = %v", err)
	}
	if !strings.Contains(buf.String(), `"status": "success"`) {
		t.Errorf("printOutcome(success) wrote %s", buf.String())
	}

	buf.Reset()
	err := printOutcome(&buf, domain.Failure(domain.KindRuntime, "boom"))
	var exit exitError
	if !errors.As(err, &exit) || exit != 1 {
		t.Fatalf("printOutcome(failure) error = %v, want exit status 1", err)
	}
	if !strings.Contains(buf.String(), `"boom"`) {
		t.Errorf("printOutcome(failure) wrote %s", buf.String())
	}
}

func TestCanary(t *testing.T) {
	cfg := config.Default()
	cfg.Observability = nil
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sc, err := initShared(cfg, logger)
	if err != nil {
		t.Fatalf("initShared() error = %v", err)
	}
	defer sc.Cleanup()

	if err := canary(context.Background(), sc.Executor); err != nil {
		t.Errorf("canary() error = %v", err)
	}
	if live := sc.Supervisor.Live(); live != 0 {
		t.Errorf("Live() after canary = %d, want 0", live)
	}
}

func TestCallHTTP(t *testing.T) {
	var got executor.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/execute" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer k1" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(domain.Success(int64(5)))
	}))
	defer srv.Close()

	req := executor.Request{ParameterNames: "a,b", BodySource: "return a+b;", ArgumentsText: "2,3"}
	out, err := callHTTP(context.Background(), srv.Client(), srv.URL+"/", "k1", req)
	if err != nil {
		t.Fatalf("callHTTP() error = %v", err)
	}
	if got != req {
		t.Errorf("server received %+v, want %+v", got, req)
	}
	if b, _ := out.ValueJSON(); !out.OK() || string(b) != "5" {
		t.Errorf("callHTTP() = %v, want success(5)", out)
	}

	if _, err := callHTTP(context.Background(), srv.Client(), srv.URL, "wrong", req); err == nil ||
		!strings.Contains(err.Error(), "401") {
		t.Errorf("callHTTP() with bad key error = %v, want a 401 error", err)
	}
}
