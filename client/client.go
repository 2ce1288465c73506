package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/imprint-pub/imprint"
)

const (
	defaultTimeout = 3 * time.Second
	maxFailCount   = 5
	failWindow     = 10 * time.Minute
)

// Client talks to remote imprint nodes over HTTPS. Well-known descriptors
// are cached; unreachable peers are skipped for a while instead of being
// re-dialed on every call.
type Client struct {
	client    *http.Client
	cache     *cache.Cache
	fails     *cache.Cache
	userAgent string
	scheme    string
}

func New() *Client {
	httpClient := &http.Client{
		Timeout: defaultTimeout,
	}

	c := &Client{
		client:    httpClient,
		cache:     cache.New(10*time.Minute, 15*time.Minute),
		fails:     cache.New(failWindow, 15*time.Minute),
		userAgent: "imprint-client",
		scheme:    "https",
	}
	httpClient.Transport = c
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	return http.DefaultTransport.RoundTrip(req)
}

// Article is the wire shape of a published record served by a peer node.
type Article struct {
	EventID     string    `json:"eventID"`
	Author      string    `json:"author"`
	Identifier  string    `json:"identifier"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Summary     string    `json:"summary,omitempty"`
	Topics      []string  `json:"topics,omitempty"`
	Version     int       `json:"version"`
	Status      string    `json:"status"`
	Supersedes  string    `json:"supersedes,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Resolve fetches and caches a peer's well-known descriptor.
func (c *Client) Resolve(ctx context.Context, domain string) (imprint.WellKnownImprint, error) {

	cacheKey := "server:" + domain
	if x, found := c.cache.Get(cacheKey); found {
		return x.(imprint.WellKnownImprint), nil
	}

	if c.onCooldown(domain) {
		return imprint.WellKnownImprint{}, fmt.Errorf("peer %s is unreachable, skipping", domain)
	}

	var wkc imprint.WellKnownImprint
	err := c.getJSON(ctx, c.scheme+"://"+domain+"/.well-known/imprint", &wkc)
	if err != nil {
		c.recordFailure(domain)
		return imprint.WellKnownImprint{}, fmt.Errorf("failed to resolve peer %s: %w", domain, err)
	}

	c.fails.Delete(domain)
	c.cache.Set(cacheKey, wkc, cache.DefaultExpiration)
	return wkc, nil
}

// FetchLatest retrieves the head version of one article chain from a peer.
func (c *Client) FetchLatest(ctx context.Context, domain, author, identifier string) (Article, error) {

	endpoint, err := c.articlesEndpoint(ctx, domain)
	if err != nil {
		return Article{}, err
	}

	var article Article
	err = c.getJSON(ctx, endpoint+"/"+url.PathEscape(author)+"/"+url.PathEscape(identifier), &article)
	if err != nil {
		return Article{}, fmt.Errorf("failed to fetch article from %s: %w", domain, err)
	}
	return article, nil
}

// FetchHistory retrieves a full article chain from a peer, oldest first.
func (c *Client) FetchHistory(ctx context.Context, domain, author, identifier string) ([]Article, error) {

	endpoint, err := c.articlesEndpoint(ctx, domain)
	if err != nil {
		return nil, err
	}

	var history []Article
	err = c.getJSON(ctx, endpoint+"/"+url.PathEscape(author)+"/"+url.PathEscape(identifier)+"/history", &history)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history from %s: %w", domain, err)
	}
	return history, nil
}

func (c *Client) articlesEndpoint(ctx context.Context, domain string) (string, error) {
	wkc, err := c.Resolve(ctx, domain)
	if err != nil {
		return "", err
	}

	endpoint, ok := wkc.Endpoints["pub.imprint.articles"]
	if !ok {
		return "", fmt.Errorf("peer %s does not serve articles", domain)
	}
	if !strings.HasPrefix(endpoint, "/") {
		return "", fmt.Errorf("peer %s advertises a malformed endpoint", domain)
	}

	return c.scheme + "://" + wkc.Domain + endpoint, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	err = json.NewDecoder(resp.Body).Decode(result)
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func (c *Client) onCooldown(domain string) bool {
	x, found := c.fails.Get(domain)
	if !found {
		return false
	}
	return x.(int) >= maxFailCount
}

func (c *Client) recordFailure(domain string) {
	count := 1
	if x, found := c.fails.Get(domain); found {
		count = x.(int) + 1
	}
	c.fails.Set(domain, count, cache.DefaultExpiration)
}
