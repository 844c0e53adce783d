package diffusion

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"shortform/internal/pkg/errors"
)

func TestGenerateImage(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sdapi/v1/txt2img" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"images":["` + base64.StdEncoding.EncodeToString([]byte("png-bytes")) + `"]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Steps: 20})
	img, err := c.GenerateImage(context.Background(), "a red fox", 512, 768)
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if string(img) != "png-bytes" {
		t.Errorf("image payload = %q", img)
	}
	if len(gotBody) == 0 {
		t.Error("request body not sent")
	}
}

func TestGenerateImageMemoryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"CUDA out of memory. Tried to allocate 2.50 GiB"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.GenerateImage(context.Background(), "x", 1080, 1920)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.IsCode(err, errors.CodeResourceExhausted) {
		t.Errorf("code = %s, want RESOURCE_EXHAUSTED", errors.GetCode(err))
	}
}

func TestGenerateImageServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"model not loaded"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.GenerateImage(context.Background(), "x", 512, 512)
	if !errors.IsCode(err, errors.CodeServiceError) {
		t.Errorf("code = %s, want SERVICE_ERROR", errors.GetCode(err))
	}
}

func TestLooksLikeMemoryFailure(t *testing.T) {
	tests := []struct {
		detail string
		want   bool
	}{
		{"torch.cuda.OutOfMemoryError: CUDA out of memory", true},
		{"RuntimeError: CUDA error: an illegal memory access", true},
		{"failed to allocate buffer", true},
		{"model not loaded", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := looksLikeMemoryFailure(tt.detail); got != tt.want {
			t.Errorf("looksLikeMemoryFailure(%q) = %v, want %v", tt.detail, got, tt.want)
		}
	}
}
