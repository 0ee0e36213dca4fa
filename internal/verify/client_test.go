package verify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guildtrack/tracker/internal/config"
	"github.com/guildtrack/tracker/internal/models"
)

const charPageBody = `<html><body>
<div style="line-height: 85%">
<label>Guild:</label> Shadow Legion<br/>
</div>
<script type="text/javascript">
var ccid = 12345678;
</script>
</body></html>`

const charPageJSONOnly = `<html><body>
<label>Guild:</label> Shadow Legion<br/>
<script id="jsonData" type="application/json">{"CharID": 987654, "Name": "Alice"}</script>
</body></html>`

func testClient(baseURL string, maxRetries int) *Client {
	return NewClient(config.VerifyConfig{
		BaseURL:    baseURL,
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
		CacheTTL:   time.Minute,
	})
}

func TestVerify_MatchesGuildCaseInsensitively(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(charPageBody))
	}))
	defer server.Close()

	client := testClient(server.URL, 1)

	tests := []struct {
		name      string
		guildName string
		want      bool
	}{
		{name: "exact match", guildName: "Shadow Legion", want: true},
		{name: "case-insensitive match", guildName: "sHaDoW lEgIoN", want: true},
		{name: "different guild", guildName: "Other Guild", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.Verify(context.Background(), "Alice"+tt.name, tt.guildName)
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestVerify_RateLimitRespectsRetryCap(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	// With max_retries = 1, a rate-limited first attempt yields a failure
	// with no second request issued.
	client := testClient(server.URL, 1)

	inGuild, err := client.Verify(context.Background(), "Alice", "Legion")
	if err == nil {
		t.Fatal("Expected an error after exhausting retries")
	}
	if inGuild {
		t.Error("Expected not-a-member on verification failure")
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("Expected exactly 1 request, got %d", got)
	}
}

func TestVerify_ServerErrorIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := testClient(server.URL, 3)

	if _, err := client.Verify(context.Background(), "Alice", "Legion"); err == nil {
		t.Fatal("Expected an error on a 503 response")
	}
}

func TestVerify_Memoized(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(charPageBody))
	}))
	defer server.Close()

	client := testClient(server.URL, 1)

	for i := 0; i < 3; i++ {
		if _, err := client.Verify(context.Background(), "Alice", "Shadow Legion"); err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
	}

	if got := requests.Load(); got != 1 {
		t.Errorf("Expected 1 network request for 3 identical queries, got %d", got)
	}

	// A different guild name is a different argument tuple and misses the memo.
	if _, err := client.Verify(context.Background(), "Alice", "Other"); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("Expected a second request for a new tuple, got %d", got)
	}
}

func TestResolveCharacterID(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int64
		wantErr error
	}{
		{name: "inline ccid assignment", body: charPageBody, want: 12345678},
		{name: "jsonData fallback", body: charPageJSONOnly, want: 987654},
		{name: "no id present", body: "<html><body>nothing here</body></html>", wantErr: models.ErrIDNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := testClient(server.URL, 1)

			id, err := client.ResolveCharacterID(context.Background(), "Alice")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveCharacterID failed: %v", err)
			}
			if id != tt.want {
				t.Errorf("Expected id %d, got %d", tt.want, id)
			}
		})
	}
}

func TestVerify_QueryCarriesCharacterName(t *testing.T) {
	var gotName string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotName = r.URL.Query().Get("id")
		w.Write([]byte(charPageBody))
	}))
	defer server.Close()

	client := testClient(server.URL, 1)
	if _, err := client.Verify(context.Background(), "Alice", "Shadow Legion"); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if gotName != "Alice" {
		t.Errorf("Expected id query parameter Alice, got %q", gotName)
	}
}
