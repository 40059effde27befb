package classifiers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"telegram-sentinel/internal/infra/classifiers"
	"telegram-sentinel/internal/infra/inference"
)

func newSidecar(t *testing.T, handler http.HandlerFunc) *inference.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return inference.NewClient(srv.URL)
}

func TestGetWarmsModelOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	client := newSidecar(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[{"label":"neutral","score":0.99}]`))
	})
	cache := classifiers.NewCache(client, t.TempDir())

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.Get(context.Background(), "rubert-tiny2-toxicity")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("warm-up calls = %d, want 1", got)
	}
}

func TestGetFailureIsNotCached(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	client := newSidecar(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "loading failed", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`[{"label":"neutral","score":0.99}]`))
	})
	cache := classifiers.NewCache(client, t.TempDir())

	if _, err := cache.Get(context.Background(), "toxic-bert"); err == nil {
		t.Fatal("first Get must fail")
	}
	c, err := cache.Get(context.Background(), "toxic-bert")
	if err != nil {
		t.Fatalf("second Get must retry after failure: %v", err)
	}
	if c.Model().ID != "toxic-bert" {
		t.Errorf("model id = %q", c.Model().ID)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("sidecar calls = %d, want 2", got)
	}
}

func TestGetNormalizesUnknownID(t *testing.T) {
	t.Parallel()

	client := newSidecar(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"label":"neutral","score":0.99}]`))
	})
	cache := classifiers.NewCache(client, t.TempDir())

	c, err := cache.Get(context.Background(), "no-such-model")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Model().ID != "rubert-tiny2-toxicity" {
		t.Errorf("unknown id must resolve to default, got %q", c.Model().ID)
	}
}

func TestClassifierForwardsZeroShotConfig(t *testing.T) {
	t.Parallel()

	var got inference.Request
	client := newSidecar(t, func(w http.ResponseWriter, r *http.Request) {
		_ = jsonDecode(r, &got)
		_, _ = w.Write([]byte(`{"labels":["мошенничество"],"scores":[0.7]}`))
	})
	cache := classifiers.NewCache(client, t.TempDir())

	c, err := cache.Get(context.Background(), "xlm-roberta-xnli")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := c.Classify(context.Background(), "текст", 5); err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if got.Task != "zero-shot-classification" {
		t.Errorf("task = %q", got.Task)
	}
	if len(got.CandidateLabels) == 0 {
		t.Error("zero-shot request must carry candidate labels")
	}
	if got.HypothesisTemplate == "" {
		t.Error("zero-shot request must carry hypothesis template")
	}
	if got.TopK != 0 {
		t.Errorf("zero-shot request must not carry topK, got %d", got.TopK)
	}
}

func jsonDecode(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
