package solrclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/indexcore/solrupdater/internal/config"
)

// okConfig is a SolrConfig with the cluster monitor disabled (no admin_url,
// no check interval), the shape most request-path tests want.
func okConfig() config.SolrConfig {
	return config.SolrConfig{MaxUpdateTries: 1}
}

func TestRequestSucceedsOnFirstTry(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := okConfig()
	cfg.UpdateURL = srv.URL

	c := New(cfg, nil)
	if err := c.Request(context.Background(), []byte(`{}`), 0); err != nil {
		t.Fatal(err)
	}
	if hits != 1 {
		t.Errorf("expected exactly one request, got %d", hits)
	}
}

func TestRequestRetriesThenSucceeds(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := okConfig()
	cfg.UpdateURL = srv.URL
	cfg.MaxUpdateTries = 3
	cfg.UpdateRetryWaitSeconds = 0

	c := New(cfg, nil)
	if err := c.Request(context.Background(), []byte(`{}`), 0); err != nil {
		t.Fatal(err)
	}
	if hits != 2 {
		t.Errorf("expected a retry then success (2 requests), got %d", hits)
	}
}

func TestRequestGivesUpAfterMaxTries(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := okConfig()
	cfg.UpdateURL = srv.URL
	cfg.MaxUpdateTries = 2
	cfg.UpdateRetryWaitSeconds = 0

	c := New(cfg, nil)
	if err := c.Request(context.Background(), []byte(`{}`), 0); err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if hits != 2 {
		t.Errorf("expected exactly max_update_tries requests, got %d", hits)
	}
}
