package upstream

import (
	"context"
	"strings"
	"testing"
	"time"

	"raidhub/internal/raid"
)

const englishPost = `{"id":1,"source":"Raid Battle Alert","text":"ABCDEF01 :Battle ID\nI need backup!\nLv60 Ozorotter\nhttps://example.com/img.png","user":{"screen_name":"trainer1"},"created_at":1700000000}`

func TestReadAllEmitsParsedPosts(t *testing.T) {
	r := strings.NewReader(englishPost + "\n")
	out := make(chan raid.Info, 1)

	if err := ReadAll(context.Background(), r, out); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	select {
	case info := <-out:
		if info.Tweet.BossName != "Lv60 Ozorotter" {
			t.Fatalf("boss name = %q", info.Tweet.BossName)
		}
	default:
		t.Fatal("expected one parsed raid.Info")
	}
}

func TestReadAllSkipsMalformedAndUnmatchedLines(t *testing.T) {
	r := strings.NewReader("not json at all\n" + `{"source":"other client","text":"irrelevant"}` + "\n")
	out := make(chan raid.Info, 4)

	if err := ReadAll(context.Background(), r, out); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no parsed posts, got %d", len(out))
	}
}

func TestReadAllRespectsContextCancellation(t *testing.T) {
	r := strings.NewReader(englishPost + "\n" + englishPost + "\n" + englishPost + "\n")
	out := make(chan raid.Info) // unbuffered: forces ReadAll to block on send

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- ReadAll(ctx, r, out) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadAll did not respect cancellation")
	}
}
