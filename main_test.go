package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/satriahrh/cocoa-fruit/primeworks/adapters/hasher"
	httpapi "github.com/satriahrh/cocoa-fruit/primeworks/adapters/http"
	"github.com/satriahrh/cocoa-fruit/primeworks/adapters/message_broker"
	"github.com/satriahrh/cocoa-fruit/primeworks/adapters/sieve"
	"github.com/satriahrh/cocoa-fruit/primeworks/adapters/store"
	wsapi "github.com/satriahrh/cocoa-fruit/primeworks/adapters/websocket"
	"github.com/satriahrh/cocoa-fruit/primeworks/config"
	"github.com/satriahrh/cocoa-fruit/primeworks/domain"
	"github.com/satriahrh/cocoa-fruit/primeworks/usecase"
)

func newTestServer(t *testing.T) (*httptest.Server, config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.APIKey, cfg.APISecret = "key", "secret"

	broker := message_broker.NewChannelMessageBroker()
	sha := hasher.New()
	primes := usecase.NewPrimeService(sieve.New(sieve.Config{}), sha, broker, store.Nop{},
		usecase.PrimeServiceConfig{MaxConcurrent: 2, Retention: time.Minute})
	auth := httpapi.NewAuthenticator(cfg.JWTSecret, cfg.JWTExpiry, cfg.APIKey, cfg.APISecret)
	ws := wsapi.NewServer(primes, broker)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		ws.Run(ctx)
		close(stopped)
	}()

	ts := httptest.NewServer(newEcho(cfg, auth, httpapi.NewPrimeHandler(primes, usecase.NewHashService(sha)), ws))
	t.Cleanup(func() {
		cancel()
		<-stopped
		ts.Close()
		primes.Shutdown(context.Background())
		broker.Close()
	})
	return ts, cfg
}

func TestServerRoutes(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health: expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("expected a request id header")
	}

	resp, err = http.Post(ts.URL+"/api/v1/primes", "application/json", strings.NewReader(`{"bound":10}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("primes without token: expected 401, got %d", resp.StatusCode)
	}
}

func TestFetchTokenAndGenerate(t *testing.T) {
	ts, cfg := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	if _, err := fetchToken(context.Background(), wsURL, cfg.APIKey, "wrong"); err == nil {
		t.Error("expected bad credentials to fail")
	}
	token, err := fetchToken(context.Background(), wsURL, cfg.APIKey, cfg.APISecret)
	if err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/primes", strings.NewReader(`{"bound":30}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Count   int    `json:"count"`
		Preview string `json:"preview"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || body.Count != 10 {
		t.Fatalf("expected 10 primes, got status %d body %+v", resp.StatusCode, body)
	}
	if body.Preview != "2, 3, 5, 7, 11, 13, 17, 19, 23, 29" {
		t.Errorf("unexpected preview %q", body.Preview)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	msg, _ := parseCommand("generate 100 7")
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		line := formatMessage(data)
		if strings.Contains(line, "count=25") {
			break
		}
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	ts, _ := newTestServer(t)
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", resp)
	}
}

func TestParseCommand(t *testing.T) {
	msg, err := parseCommand("generate 1000 64")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != "generate" || msg.Bound != "1000" || msg.ChunkSize != "64" {
		t.Errorf("unexpected message %+v", msg)
	}

	msg, err = parseCommand("cancel abc")
	if err != nil || msg.Type != "cancel" || msg.JobID != "abc" {
		t.Errorf("unexpected cancel %+v, %v", msg, err)
	}

	for _, line := range []string{"generate", "generate ten", "generate 10 x", "cancel", "cancel a b", "dance"} {
		if _, err := parseCommand(line); err == nil {
			t.Errorf("%q: expected error", line)
		}
	}
}

func TestFormatMessage(t *testing.T) {
	cases := map[string]string{
		`{"type":"progress","job_id":"j1","bound":100,"progress":{"bound":100,"chunk":2,"cursor":9}}`: "j1 progress: chunk 2 cursor 9/100",
		`{"type":"completed","job_id":"j1","bound":100,"count":25,"digest":"ab"}`:                    "j1 completed: count=25 digest=ab",
		`{"type":"cancelled","job_id":"j1","bound":100,"error":"cancelled"}`:                          "j1 cancelled: cancelled",
		`{"type":"error","code":"not_found","message":"job not found"}`:                               "error not_found: job not found",
		`{"type":"job","job":{"id":"j2","bound":10,"status":"running"}}`:                              "job j2: running bound=10",
		`not json`: "not json",
	}
	for in, want := range cases {
		if got := formatMessage([]byte(in)); got != want {
			t.Errorf("formatMessage(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestPrintPrimes(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	if err := printPrimes(context.Background(), cmd, config.Default(), 30); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{"count:   10", "primes:  2, 3, 5, 7, 11, 13, 17, 19, 23, 29", "digest:  "} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}

	if err := printPrimes(context.Background(), cmd, config.Default(), -1); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected invalid argument, got %v", err)
	}
}

func TestHashCommand(t *testing.T) {
	var out bytes.Buffer
	hashCmd.SetOut(&out)
	defer hashCmd.SetOut(nil)

	if err := hashCmd.RunE(hashCmd, []string{"abc"}); err != nil {
		t.Fatal(err)
	}
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}
