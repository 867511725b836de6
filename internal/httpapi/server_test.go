package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"raidhub/internal/aggregator"
	"raidhub/internal/hashpipeline"
	"raidhub/internal/raid"
	"raidhub/internal/store"
)

func jsonAdapter(m aggregator.Message) (any, bool) {
	switch m.Kind {
	case aggregator.KindTweet:
		return map[string]any{"type": "tweet", "boss": m.Tweet.BossName}, true
	case aggregator.KindBossUpdate:
		return map[string]any{"type": "boss_update", "boss": m.Boss.Name}, true
	}
	return nil, false
}

func startServer(t *testing.T) (*httptest.Server, chan raid.Info, func()) {
	t.Helper()
	agg := aggregator.NewBuilder().WithMessageAdapter(jsonAdapter).Build()
	postCh := make(chan raid.Info)
	hashCh := make(chan hashpipeline.Result)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		agg.Run(ctx, postCh, hashCh)
		close(done)
	}()

	srv := New(agg.Client(), 1000, 1000)
	ts := httptest.NewServer(srv.Echo())

	cleanup := func() {
		ts.Close()
		cancel()
		<-done
	}
	return ts, postCh, cleanup
}

func TestHealthEndpoint(t *testing.T) {
	ts, _, cleanup := startServer(t)
	defer cleanup()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestBossesEndpointReflectsCatalog(t *testing.T) {
	ts, postCh, cleanup := startServer(t)
	defer cleanup()

	postCh <- raid.Info{Tweet: raid.Tweet{BossName: "Lv60 Ozorotter", Language: raid.LanguageEnglish}}
	time.Sleep(20 * time.Millisecond)

	resp, err := http.Get(ts.URL + "/bosses")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var bosses []raid.Boss
	if err := json.NewDecoder(resp.Body).Decode(&bosses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(bosses) != 1 || bosses[0].Name != "Lv60 Ozorotter" {
		t.Fatalf("bosses = %+v", bosses)
	}
}

func TestStreamEndpointDeliversNDJSON(t *testing.T) {
	ts, postCh, cleanup := startServer(t)
	defer cleanup()

	client := &http.Client{Timeout: 3 * time.Second}
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/stream", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("stream get: %v", err)
	}
	defer resp.Body.Close()

	time.Sleep(20 * time.Millisecond)
	postCh <- raid.Info{Tweet: raid.Tweet{BossName: "Lv60 Ozorotter", Language: raid.LanguageEnglish}}

	dec := json.NewDecoder(resp.Body)
	var item map[string]any
	done := make(chan error, 1)
	go func() { done <- dec.Decode(&item) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for NDJSON line")
	}
	if item["boss"] != "Lv60 Ozorotter" {
		t.Fatalf("item = %+v", item)
	}
}

func TestRemoveBossEndpoint(t *testing.T) {
	ts, postCh, cleanup := startServer(t)
	defer cleanup()

	postCh <- raid.Info{Tweet: raid.Tweet{BossName: "Lv60 Ozorotter", Language: raid.LanguageEnglish}}
	time.Sleep(20 * time.Millisecond)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/bosses/Lv60%20Ozorotter", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	time.Sleep(20 * time.Millisecond)
	resp2, _ := http.Get(ts.URL + "/bosses")
	var bosses []raid.Boss
	json.NewDecoder(resp2.Body).Decode(&bosses)
	resp2.Body.Close()
	if len(bosses) != 0 {
		t.Fatalf("expected boss removed, got %+v", bosses)
	}
}

func TestRemoveBossEndpointRecordsAuditEntry(t *testing.T) {
	agg := aggregator.NewBuilder().WithMessageAdapter(jsonAdapter).Build()
	postCh := make(chan raid.Info)
	hashCh := make(chan hashpipeline.Result)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agg.Run(ctx, postCh, hashCh)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	srv := New(agg.Client(), 1000, 1000)
	srv.SetAuditStore(st)
	ts := httptest.NewServer(srv.Echo())
	defer ts.Close()

	postCh <- raid.Info{Tweet: raid.Tweet{BossName: "Lv60 Ozorotter", Language: raid.LanguageEnglish}}
	time.Sleep(20 * time.Millisecond)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/bosses/Lv60%20Ozorotter", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()

	entries, err := st.GetAuditLog("", 10)
	if err != nil {
		t.Fatalf("get audit log: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "remove_bosses" || entries[0].Target != "Lv60 Ozorotter" {
		t.Fatalf("entries = %+v", entries)
	}

	resp2, err := http.Get(ts.URL + "/audit")
	if err != nil {
		t.Fatalf("get /audit: %v", err)
	}
	defer resp2.Body.Close()
	var fromAPI []store.AuditEntry
	if err := json.NewDecoder(resp2.Body).Decode(&fromAPI); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fromAPI) != 1 || fromAPI[0].Target != "Lv60 Ozorotter" {
		t.Fatalf("audit endpoint = %+v", fromAPI)
	}
}
