package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendSSEEventFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)

	if err := SendSSEEvent(rec, rec, "typing", map[string]bool{"on": true}); err != nil {
		t.Fatalf("send: %v", err)
	}

	if got := rec.Body.String(); got != "event: typing\ndata: {\"on\":true}\n\n" {
		t.Fatalf("unexpected frame %q", got)
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("missing sse content type")
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Prompt string `json:"prompt"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"prompt":"sunset"}`))
	if err := DecodeJSON(httptest.NewRecorder(), req, &v); err != nil || v.Prompt != "sunset" {
		t.Fatalf("decode failed: %v %+v", err, v)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := DecodeJSON(httptest.NewRecorder(), req, &v); err == nil {
		t.Fatal("expected error for empty body")
	}
}
