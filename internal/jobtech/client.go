// Package jobtech implements the job source collaborator against the
// JobTech Search API (jobsearch.api.jobtechdev.se).
package jobtech

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/rizwan0110/JobSearch-Agent/internal/ingest"
	"github.com/rizwan0110/JobSearch-Agent/internal/retry"
)

const (
	apiURL          = "https://jobsearch.api.jobtechdev.se"
	searchPath      = "/search"
	sourceName      = "jobtech"
	defaultAgent    = "jobsearch-agent (github.com/rizwan0110/JobSearch-Agent)"
	contentEncoding = "gzip, deflate, br"
	// Max page size accepted by the API.
	pageLimit = 100
)

// Client talks to the JobTech Search API. It pages through results until
// the API returns an empty hits array.
type Client struct {
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

// New creates a JobTech API client.
func New(logger *zap.Logger) *Client {
	return &Client{
		logger: logger,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		UserAgent: defaultAgent,
	}
}

type searchResponse struct {
	Hits []map[string]any `json:"hits"`
}

type hit struct {
	ID          string `json:"id"`
	Headline    string `json:"headline"`
	WebpageURL  string `json:"webpage_url"`
	Publication string `json:"publication_date"`
	Employer    struct {
		Name string `json:"name"`
	} `json:"employer"`
	Description struct {
		Text string `json:"text"`
	} `json:"description"`
	WorkplaceAddress struct {
		Municipality string `json:"municipality"`
	} `json:"workplace_address"`
}

// Fetch implements ingest.Source. Network failures and throttling come back
// marked transient for the caller's retry policy.
func (c *Client) Fetch(ctx context.Context, query string) ([]ingest.RawPosting, error) {
	var out []ingest.RawPosting

	offset := 0
	for {
		page, err := c.searchPage(ctx, query, offset)
		if err != nil {
			return nil, err
		}

		if len(page.Hits) == 0 {
			break
		}

		c.logger.Debug("got search page from jobtech",
			zap.Int("offset", offset),
			zap.Int("hits", len(page.Hits)),
		)

		hits, err := decodeHits(page.Hits)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			out = append(out, rawPosting(h))
		}

		offset += pageLimit
	}

	return out, nil
}

// decodeHits maps the loosely-typed API items onto hit structs, reusing the
// json tags as the decode keys.
func decodeHits(items []map[string]any) ([]hit, error) {
	var hits []hit
	cfg := &mapstructure.DecoderConfig{
		Result:  &hits,
		TagName: "json",
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(items); err != nil {
		return nil, fmt.Errorf("jobtech search: decode hits: %w", err)
	}
	return hits, nil
}

// Name implements ingest.Source.
func (c *Client) Name() string { return sourceName }

func (c *Client) searchPage(ctx context.Context, query string, offset int) (*searchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIURL+searchPath, nil)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(pageLimit))
	q.Set("offset", strconv.Itoa(offset))
	req.URL.RawQuery = q.Encode()

	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", contentEncoding)

	c.logger.Debug("make request", zap.String("url", req.URL.String()))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Transport-level failures (refused, reset, timeout) are transient.
		return nil, retry.Transient(fmt.Errorf("jobtech search: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("jobtech search: bad status: %s", resp.Status)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, retry.Transient(err)
		}
		return nil, err
	}

	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		body = gz
	}

	var page searchResponse
	if err := json.NewDecoder(body).Decode(&page); err != nil {
		return nil, fmt.Errorf("jobtech search: decode response: %w", err)
	}

	return &page, nil
}

func rawPosting(h hit) ingest.RawPosting {
	postedAt, _ := time.Parse(time.RFC3339, h.Publication)
	return ingest.RawPosting{
		SourceID:    h.ID,
		Title:       h.Headline,
		Description: h.Description.Text,
		URL:         h.WebpageURL,
		Location:    h.WorkplaceAddress.Municipality,
		Employer:    h.Employer.Name,
		PostedAt:    postedAt,
	}
}
