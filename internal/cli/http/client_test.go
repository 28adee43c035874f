package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDoSetsUserHeader(t *testing.T) {
	var gotUser, gotMethod, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get("X-User-Id")
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"code":0,"message":"success","data":{"status":"Queued"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second, func() string { return "alice" })
	c.SetToken("tok")
	resp, err := c.Do(context.Background(), http.MethodDelete, "/api/v1/submissions/s1", nil, nil)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("unexpected authorization header %q", gotAuth)
	}
	if gotUser != "alice" || gotMethod != http.MethodDelete || resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected request: user=%q method=%q status=%d", gotUser, gotMethod, resp.StatusCode)
	}
	env, err := resp.Envelope()
	if err != nil || string(env.Data) != `{"status":"Queued"}` {
		t.Fatalf("unexpected envelope: %+v %v", env, err)
	}
}

func TestEnvelopeRejectsPlainText(t *testing.T) {
	if _, err := (ResponseInfo{Body: []byte("bad gateway")}).Envelope(); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestWatchStreamsUntilNormalClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/submissions/s1/watch" || r.Header.Get("X-User-Id") != "bob" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, status := range []string{"Running", "Accepted"} {
			_ = conn.WriteJSON(map[string]string{"status": status})
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "final"))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, func() string { return "bob" })
	var statuses []string
	err := c.Watch(context.Background(), "s1", func(data json.RawMessage) error {
		var v struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		statuses = append(statuses, v.Status)
		return nil
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(statuses) != 2 || statuses[1] != "Accepted" {
		t.Fatalf("unexpected statuses: %v", statuses)
	}
}

func TestWatchReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":3001,"message":"submission not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	err := New(srv.URL, time.Second, nil).Watch(context.Background(), "missing", func(json.RawMessage) error { return nil })
	if err == nil {
		t.Fatalf("expected rejection error")
	}
}
