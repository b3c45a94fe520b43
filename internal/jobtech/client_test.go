package jobtech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"go.uber.org/zap"

	"github.com/rizwan0110/JobSearch-Agent/internal/retry"
)

func testClient(serverURL string) *Client {
	c := New(zap.NewNop())
	c.APIURL = serverURL
	return c
}

func apiHit(id, headline string) map[string]any {
	return map[string]any{
		"id":               id,
		"headline":         headline,
		"webpage_url":      "https://example.com/" + id,
		"publication_date": "2026-08-20T08:00:00",
		"employer":         map[string]any{"name": "Acme"},
		"description":      map[string]any{"text": "Description for " + id},
		"workplace_address": map[string]any{
			"municipality": "Stockholm",
		},
	}
}

func writeHits(t *testing.T, w http.ResponseWriter, hits []map[string]any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"hits": hits}); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func TestFetchPagesUntilEmpty(t *testing.T) {
	var offsets []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "golang developer" {
			t.Fatalf("unexpected query: %q", got)
		}
		offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
		if err != nil {
			t.Fatalf("bad offset: %v", err)
		}
		offsets = append(offsets, offset)

		switch offset {
		case 0:
			hits := make([]map[string]any, 0, pageLimit)
			for i := 0; i < pageLimit; i++ {
				hits = append(hits, apiHit(fmt.Sprintf("a-%d", i), fmt.Sprintf("Engineer %d", i)))
			}
			writeHits(t, w, hits)
		case pageLimit:
			writeHits(t, w, []map[string]any{apiHit("b-0", "Last one")})
		default:
			writeHits(t, w, nil)
		}
	}))
	defer server.Close()

	raws, err := testClient(server.URL).Fetch(context.Background(), "golang developer")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if len(raws) != pageLimit+1 {
		t.Fatalf("expected %d postings, got %d", pageLimit+1, len(raws))
	}
	if len(offsets) != 3 || offsets[0] != 0 || offsets[1] != pageLimit || offsets[2] != 2*pageLimit {
		t.Fatalf("unexpected paging offsets: %v", offsets)
	}

	first := raws[0]
	if first.SourceID != "a-0" || first.Title != "Engineer 0" {
		t.Fatalf("unexpected first posting: %+v", first)
	}
	if first.Employer != "Acme" || first.Location != "Stockholm" {
		t.Fatalf("nested fields not mapped: %+v", first)
	}
	if first.Description != "Description for a-0" {
		t.Fatalf("description not mapped: %+v", first)
	}
}

func TestFetchMarksThrottlingTransient(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway} {
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(status)
			}))
			defer server.Close()

			_, err := testClient(server.URL).Fetch(context.Background(), "golang")
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !retry.IsTransient(err) {
				t.Fatalf("status %d must be transient, got %v", status, err)
			}
		})
	}
}

func TestFetchBadRequestIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := testClient(server.URL).Fetch(context.Background(), "golang")
	if err == nil {
		t.Fatalf("expected an error")
	}
	if retry.IsTransient(err) {
		t.Fatalf("a 400 must not be retried, got %v", err)
	}
}

func TestFetchConnectionErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	_, err := testClient(server.URL).Fetch(context.Background(), "golang")
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !retry.IsTransient(err) {
		t.Fatalf("connection failures must be transient, got %v", err)
	}
}
