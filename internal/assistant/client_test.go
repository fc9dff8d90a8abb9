package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientReply(t *testing.T) {
	t.Parallel()

	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  Bonjour, la voiture est disponible.  "}}]}`))
	}))
	defer server.Close()

	client, err := NewClient(nil, server.URL, "test-key", "gpt-4o-mini", 0)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	reply, err := client.Reply(context.Background(), "Tu es un vendeur.", []Turn{
		{Role: RoleUser, Content: "Elle est toujours dispo ?"},
	})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply != "Bonjour, la voiture est disponible." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != RoleSystem {
		t.Fatalf("unexpected request messages: %+v", got.Messages)
	}
}

func TestClientReplyServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	client, err := NewClient(nil, server.URL, "test-key", "gpt-4o-mini", 0)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.Reply(context.Background(), "", []Turn{{Role: RoleUser, Content: "hi"}}); err == nil {
		t.Fatal("expected error on non-2xx response")
	}
}

func TestClientReplyEmptyHistory(t *testing.T) {
	t.Parallel()

	client, err := NewClient(nil, "http://localhost:1", "test-key", "gpt-4o-mini", 0)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Reply(context.Background(), "", nil); err == nil {
		t.Fatal("expected error on empty history")
	}
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(nil, "", "key", "model", 0); err == nil {
		t.Fatal("expected error on missing base url")
	}
	if _, err := NewClient(nil, "http://x", "", "model", 0); err == nil {
		t.Fatal("expected error on missing api key")
	}
	if _, err := NewClient(nil, "http://x", "key", "", 0); err == nil {
		t.Fatal("expected error on missing model")
	}
}
