package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"

	"shortform/internal/pkg/errors"
	"shortform/internal/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Format: "json"})
}

// fakeBackend renders solid PNGs at the requested size and can be told to
// fail with specific errors on specific calls.
type fakeBackend struct {
	calls []call
	errs  []error // consumed per call; nil entry means success
}

type call struct {
	width, height int
}

func (f *fakeBackend) GenerateImage(ctx context.Context, prompt string, width, height int) ([]byte, error) {
	f.calls = append(f.calls, call{width, height})
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return solidPNG(width, height), nil
}

func (f *fakeBackend) Reset(ctx context.Context) error { return nil }

func solidPNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func dims(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode generated image: %v", err)
	}
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestGenerateFullResolution(t *testing.T) {
	backend := &fakeBackend{}
	gen := New(backend, Options{Width: 256, Height: 512, DegradeFraction: 0.70}, testLogger())

	out, err := gen.Generate(context.Background(), "a fox")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if w, h := dims(t, out); w != 256 || h != 512 {
		t.Errorf("dims = %dx%d, want 256x512", w, h)
	}
	if gen.Degraded() {
		t.Error("generator should not be degraded")
	}
	if backend.calls[0].width != 256 {
		t.Errorf("backend asked for width %d, want 256", backend.calls[0].width)
	}
}

func TestGenerateDegradesOnMemoryPressure(t *testing.T) {
	backend := &fakeBackend{
		errs: []error{fmt.Errorf("CUDA out of memory. Tried to allocate 2.50 GiB")},
	}
	gen := New(backend, Options{Width: 256, Height: 512, DegradeFraction: 0.70}, testLogger())
	ctx := context.Background()

	// First attempt fails with OOM and must come back retryable.
	_, err := gen.Generate(ctx, "a fox")
	if err == nil {
		t.Fatal("expected OOM error")
	}
	if !errors.IsCode(err, errors.CodeResourceExhausted) {
		t.Errorf("code = %s, want RESOURCE_EXHAUSTED", errors.GetCode(err))
	}
	if !gen.Degraded() {
		t.Fatal("generator should be degraded after OOM")
	}

	// Retry renders reduced and upscales to exact target dims.
	out, err := gen.Generate(ctx, "a fox")
	if err != nil {
		t.Fatalf("degraded Generate: %v", err)
	}
	if w, h := dims(t, out); w != 256 || h != 512 {
		t.Errorf("degraded output dims = %dx%d, want exactly 256x512", w, h)
	}

	second := backend.calls[1]
	if second.width >= 256 || second.height >= 512 {
		t.Errorf("degraded attempt asked for %dx%d, want reduced dims", second.width, second.height)
	}
	if second.width%8 != 0 || second.height%8 != 0 {
		t.Errorf("degraded dims %dx%d not multiples of 8", second.width, second.height)
	}
}

// Once degraded, no later unit in the job goes back to full resolution.
func TestFallbackStability(t *testing.T) {
	backend := &fakeBackend{
		errs: []error{errors.ResourceExhausted("diffusion", "oom")},
	}
	gen := New(backend, Options{Width: 128, Height: 256, DegradeFraction: 0.5}, testLogger())
	ctx := context.Background()

	_, _ = gen.Generate(ctx, "unit 1") // trips degradation

	for i := 0; i < 3; i++ {
		out, err := gen.Generate(ctx, "unit")
		if err != nil {
			t.Fatalf("unit %d: %v", i, err)
		}
		if w, h := dims(t, out); w != 128 || h != 256 {
			t.Errorf("unit %d dims = %dx%d, want 128x256", i, w, h)
		}
	}

	for _, c := range backend.calls[1:] {
		if c.width == 128 {
			t.Error("full resolution attempted after degradation")
		}
	}
}

func TestSeededDegradationSkipsFullResolution(t *testing.T) {
	backend := &fakeBackend{}
	gen := New(backend, Options{Width: 128, Height: 256, DegradeFraction: 0.5, Degraded: true}, testLogger())

	if !gen.Degraded() {
		t.Fatal("generator should start degraded")
	}
	out, err := gen.Generate(context.Background(), "a fox")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if w, h := dims(t, out); w != 128 || h != 256 {
		t.Errorf("output dims = %dx%d, want 128x256", w, h)
	}
	if len(backend.calls) != 1 || backend.calls[0].width != 64 || backend.calls[0].height != 128 {
		t.Errorf("backend calls = %+v, want one call at 64x128", backend.calls)
	}
}

func TestNonMemoryFailureDoesNotDegrade(t *testing.T) {
	backend := &fakeBackend{
		errs: []error{errors.ServiceError("diffusion", "connection refused")},
	}
	gen := New(backend, Options{Width: 64, Height: 64}, testLogger())

	_, err := gen.Generate(context.Background(), "a fox")
	if err == nil {
		t.Fatal("expected error")
	}
	if gen.Degraded() {
		t.Error("service error must not trigger degradation")
	}
	if !errors.IsCode(err, errors.CodeServiceError) {
		t.Errorf("code = %s, want SERVICE_ERROR", errors.GetCode(err))
	}
}

func TestIsMemoryPressure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"coded", errors.ResourceExhausted("d", "x"), true},
		{"cuda message", fmt.Errorf("RuntimeError: CUDA error: out of memory"), true},
		{"torch oom", fmt.Errorf("torch.cuda.OutOfMemoryError"), true},
		{"allocation", fmt.Errorf("failed to allocate 512MB"), true},
		{"unrelated", fmt.Errorf("connection reset by peer"), false},
		{"quota", errors.QuotaExceeded("yt", "limit"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isMemoryPressure(tt.err); got != tt.want {
				t.Errorf("isMemoryPressure = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSnapDown(t *testing.T) {
	tests := []struct{ in, want int }{
		{756, 752},
		{1344, 1344},
		{89, 88},
		{3, 8},
	}
	for _, tt := range tests {
		if got := snapDown(tt.in); got != tt.want {
			t.Errorf("snapDown(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestUpscalePassthrough(t *testing.T) {
	data := solidPNG(100, 200)
	out, err := Upscale(data, 100, 200)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, data) {
		t.Error("image already at target size should pass through unchanged")
	}
}
