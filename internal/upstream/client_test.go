package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// fakeProvider answers each binary frame with a Results event echoing the
// frame length, and records text control frames.
func fakeProvider(t *testing.T, controls chan<- string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch messageType {
			case websocket.TextMessage:
				if controls != nil {
					controls <- string(data)
				}
			case websocket.BinaryMessage:
				// A non-JSON frame first, which Recv must skip.
				conn.WriteMessage(websocket.TextMessage, []byte("not json"))
				conn.WriteJSON(map[string]any{
					"type":     "Results",
					"is_final": true,
					"channel": map[string]any{
						"alternatives": []map[string]any{{"transcript": "  heard " + string(data) + "  "}},
					},
				})
			}
		}
	}))
}

func TestDialerEndpoint(t *testing.T) {
	d, err := NewDialer(Options{
		URL:           "wss://api.deepgram.com/v1/listen",
		APIKey:        "k",
		Model:         "nova-2-medical",
		EndpointingMS: 800,
	})
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	endpoint := d.Endpoint()
	for _, want := range []string{
		"model=nova-2-medical",
		"encoding=linear16",
		"sample_rate=16000",
		"channels=1",
		"endpointing=800",
		"interim_results=true",
		"punctuate=true",
		"smart_format=true",
	} {
		if !strings.Contains(endpoint, want) {
			t.Errorf("endpoint %q missing %q", endpoint, want)
		}
	}
}

func TestDialerRejectsBadScheme(t *testing.T) {
	if _, err := NewDialer(Options{URL: "https://example.com/listen"}); err == nil {
		t.Fatal("expected error for non-websocket scheme")
	}
}

func TestOpenSendRecv(t *testing.T) {
	controls := make(chan string, 4)
	srv := fakeProvider(t, controls)
	defer srv.Close()

	d, err := NewDialer(Options{URL: wsURL(srv), APIKey: "secret", AttemptTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := d.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	if err := conn.Send([]byte("abc")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ev, err := conn.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	text, ok := ev.Transcript()
	if !ok || text != "heard abc" || !ev.IsFinal {
		t.Errorf("Transcript() = %q, %v (final=%v)", text, ok, ev.IsFinal)
	}

	if err := conn.KeepAlive(); err != nil {
		t.Fatalf("KeepAlive: %v", err)
	}
	select {
	case got := <-controls:
		if got != `{"type":"KeepAlive"}` {
			t.Errorf("keepalive frame = %q", got)
		}
	case <-ctx.Done():
		t.Fatal("keepalive never reached the provider")
	}
}

func TestOpenUnauthorizedIsConnectFailed(t *testing.T) {
	srv := fakeProvider(t, nil)
	defer srv.Close()

	d, _ := NewDialer(Options{URL: wsURL(srv), APIKey: "wrong", AttemptTimeout: time.Second})
	_, err := d.Open(context.Background())
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("err = %v, want ErrConnectFailed", err)
	}
	if errors.Is(err, ErrConnectTimeout) {
		t.Fatal("refused connection must not look like a timeout")
	}
	var ce *ConnectError
	if !errors.As(err, &ce) || !strings.Contains(ce.Details, "401") {
		t.Errorf("expected status in details, got %v", err)
	}
}

func TestOpenTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	d, _ := NewDialer(Options{URL: wsURL(srv), APIKey: "secret", AttemptTimeout: 100 * time.Millisecond})
	start := time.Now()
	_, err := d.Open(context.Background())
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("err = %v, want ErrConnectTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
}

func TestRecvCancel(t *testing.T) {
	srv := fakeProvider(t, nil)
	defer srv.Close()

	d, _ := NewDialer(Options{URL: wsURL(srv), APIKey: "secret", AttemptTimeout: time.Second})
	conn, err := d.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := conn.Recv(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Recv err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not return after cancel")
	}
}

func TestEventTranscript(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		text string
		ok   bool
	}{
		{"result", `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hello"}]}}`, "hello", true},
		{"empty text", `{"type":"Results","channel":{"alternatives":[{"transcript":"   "}]}}`, "", false},
		{"no alternatives", `{"type":"Results","channel":{"alternatives":[]}}`, "", false},
		{"metadata", `{"type":"Metadata","channel":{"alternatives":[{"transcript":"x"}]}}`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(tc.raw))
			if err != nil {
				t.Fatal(err)
			}
			text, ok := ev.Transcript()
			if text != tc.text || ok != tc.ok {
				t.Errorf("Transcript() = %q, %v; want %q, %v", text, ok, tc.text, tc.ok)
			}
		})
	}
}
