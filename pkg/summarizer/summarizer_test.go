package summarizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rakha/ingat/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionResponse(content string) map[string]any {
	return map[string]any{
		"id":      "cmpl-1",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "test-model",
		"choices": []map[string]any{
			{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
			},
		},
	}
}

func newTestSummarizer(t *testing.T, endpoint string, timeout time.Duration, concurrency int) *Summarizer {
	t.Helper()
	s, err := New(Config{
		Endpoint:    endpoint,
		Model:       "test-model",
		Timeout:     timeout,
		Concurrency: concurrency,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	return s
}

func testMessages() []store.Message {
	return []store.Message{
		{Role: store.RoleUser, Content: "we found a bug in session initialization", Tokens: 10, Seq: 1},
		{Role: store.RoleAssistant, Content: "fixed by reordering the startup sequence", Tokens: 10, Seq: 2},
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Model: "m"})
	assert.Error(t, err)

	_, err = New(Config{Endpoint: "http://localhost:11434"})
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		gotPrompt = req.Messages[0].Content

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse("  the bug was fixed  "))
	}))
	defer srv.Close()

	s := newTestSummarizer(t, srv.URL, 5*time.Second, 1)

	summary, err := s.Summarize(context.Background(), testMessages(), 200)
	require.NoError(t, err)
	assert.Equal(t, "the bug was fixed", summary)
	assert.Contains(t, gotPrompt, "session initialization")
	assert.Contains(t, gotPrompt, "200 tokens")
}

func TestSummarize_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	s := newTestSummarizer(t, srv.URL, 50*time.Millisecond, 1)

	_, err := s.Summarize(context.Background(), testMessages(), 100)
	assert.Error(t, err)
}

func TestSummarize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newTestSummarizer(t, srv.URL, time.Second, 1)

	_, err := s.Summarize(context.Background(), testMessages(), 100)
	assert.Error(t, err)
}

func TestSummarize_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse("   "))
	}))
	defer srv.Close()

	s := newTestSummarizer(t, srv.URL, time.Second, 1)

	_, err := s.Summarize(context.Background(), testMessages(), 100)
	assert.Error(t, err)
}

func TestSummarize_BoundedConcurrency(t *testing.T) {
	var inFlight, maxInFlight int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			prev := atomic.LoadInt64(&maxInFlight)
			if n <= prev || atomic.CompareAndSwapInt64(&maxInFlight, prev, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse("ok"))
	}))
	defer srv.Close()

	s := newTestSummarizer(t, srv.URL, 5*time.Second, 1)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Summarize(context.Background(), testMessages(), 100)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&maxInFlight))
}

func TestSummarize_CanceledWhileQueued(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse("ok"))
	}))
	defer srv.Close()
	defer close(release)

	s := newTestSummarizer(t, srv.URL, 5*time.Second, 1)

	// Occupy the single slot.
	go s.Summarize(context.Background(), testMessages(), 100)
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Summarize(ctx, testMessages(), 100)
	assert.ErrorIs(t, err, context.Canceled)
}
