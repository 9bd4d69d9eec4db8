package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJSONResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	jsonResponse(rec, http.StatusCreated, map[string]int{"n": 1})

	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
	if rec.Header().Get("Content-Length") != "8" || rec.Body.String() != "{\"n\":1}\n" {
		t.Errorf("unexpected body %q (length %s)", rec.Body.String(), rec.Header().Get("Content-Length"))
	}
}

func TestJSONResponseEncodingFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	jsonResponse(rec, http.StatusOK, map[string]any{"bad": make(chan int)})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Error == "" {
		t.Errorf("expected JSON error body, got %q (%v)", rec.Body.String(), err)
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"ids":["a"]}`, false},
		{"unknown field", `{"ids":["a"],"force":true}`, true},
		{"trailing data", `{"ids":["a"]} {"ids":["b"]}`, true},
		{"empty", ``, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("DELETE", "/api/items", strings.NewReader(tt.body))
			var target removeRequest
			err := decodeJSON(req, &target)
			if (err != nil) != tt.wantErr {
				t.Errorf("decodeJSON(%q) error = %v, wantErr %v", tt.body, err, tt.wantErr)
			}
		})
	}
}
