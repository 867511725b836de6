package hashpipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func encodeSolidPNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.Gray{Y: uint8((x + y) % 255)})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	data := encodeSolidPNG(w, h)
	if len(data) == 0 {
		t.Fatalf("encode produced no data")
	}
	return data
}

func TestFetchAndHashSucceeds(t *testing.T) {
	data := encodePNG(t, 64, 64)
	fetch := func(ctx context.Context, url string) ([]byte, error) {
		return data, nil
	}
	p := New(2, fetch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Request(Request{BossName: "Lv60 Ozorotter", URL: "https://example.com/boss.png"})

	select {
	case res := <-p.Results():
		if res.BossName != "Lv60 Ozorotter" {
			t.Fatalf("boss name = %q", res.BossName)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestFailedFetchIsDroppedWithoutRetry(t *testing.T) {
	var calls int32
	fetch := func(ctx context.Context, url string) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("boom")
	}
	p := New(2, fetch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Request(Request{BossName: "X", URL: "https://example.com/x.png"})

	select {
	case <-p.Results():
		t.Fatal("expected no result for failed fetch")
	case <-time.After(300 * time.Millisecond):
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1 (no retry)", calls)
	}
}

func TestDuplicateRequestsAreDeduped(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	fetch := func(ctx context.Context, url string) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return encodeSolidPNG(32, 32), nil
	}
	p := New(2, fetch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Run(ctx)
	}()

	p.Request(Request{BossName: "Dup", URL: "https://example.com/a.png"})
	time.Sleep(50 * time.Millisecond) // let the first fetch start
	p.Request(Request{BossName: "Dup", URL: "https://example.com/a.png"})
	close(release)

	select {
	case <-p.Results():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1 (deduplicated)", calls)
	}
}

func TestTooSmallImageIsDropped(t *testing.T) {
	data := encodePNG(t, 4, 4)
	fetch := func(ctx context.Context, url string) ([]byte, error) {
		return data, nil
	}
	p := New(1, fetch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Request(Request{BossName: "Tiny", URL: "https://example.com/tiny.png"})

	select {
	case <-p.Results():
		t.Fatal("expected no result for too-small image")
	case <-time.After(300 * time.Millisecond):
	}
}
