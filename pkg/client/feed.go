package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/unifeed/pkg/feed"
	"github.com/Sternrassler/unifeed/pkg/pagination"
)

// API paths of the feed backend.
const (
	UnifiedDocumentsPath = "/api/researchhub_unified_document/get_unified_documents/"
	ContributionsPath    = "/api/contribution/"
	BountiesPath         = "/api/bounty/"
)

var (
	_ feed.Gateway           = (*Client)(nil)
	_ pagination.LinkFetcher = (*Client)(nil)
)

// FeedURL builds the unified document URL of a feed page.
func (c *Client) FeedURL(page int, filters feed.Filters) string {
	if page < 1 {
		page = 1
	}
	if normalized, err := filters.Normalize(); err == nil {
		filters = normalized
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("type", string(filters.DocType))
	if filters.HubID > 0 {
		q.Set("hub_id", strconv.FormatInt(filters.HubID, 10))
	}
	q.Set("ordering", string(filters.Ordering))
	q.Set("time", string(filters.TimeScope))
	if filters.SubscribedHubs {
		q.Set("subscribed_hubs", "true")
	}
	return c.endpointURL(UnifiedDocumentsPath, q)
}

// ContributionsURL builds the first page URL of an author's contributions.
func (c *Client) ContributionsURL(authorID int64, contentType string) string {
	q := url.Values{}
	q.Set("author_id", strconv.FormatInt(authorID, 10))
	if contentType != "" {
		q.Set("type", contentType)
	}
	return c.endpointURL(ContributionsPath, q)
}

// BountiesURL builds the bounty listing URL for a status such as "OPEN".
func (c *Client) BountiesURL(status string, personalized bool) string {
	q := url.Values{}
	if status != "" {
		q.Set("status", strings.ToUpper(status))
	}
	if personalized {
		q.Set("personalized", "true")
	}
	return c.endpointURL(BountiesPath, q)
}

func (c *Client) endpointURL(path string, q url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = q.Encode()
	return u.String()
}

// Envelope fetches the raw envelope of a feed page.
func (c *Client) Envelope(ctx context.Context, page int, filters feed.Filters) (*pagination.Envelope, error) {
	if err := filters.Validate(); err != nil {
		return nil, fmt.Errorf("invalid filters: %w", err)
	}
	return c.envelope(ctx, c.FeedURL(page, filters))
}

// FetchPage fetches one feed page. The page has more when the server
// announced a next link.
func (c *Client) FetchPage(ctx context.Context, page int, filters feed.Filters) (feed.Page, error) {
	env, err := c.Envelope(ctx, page, filters)
	if err != nil {
		return feed.Page{}, err
	}

	docs, err := pagination.DecodeResults[feed.Document](env.Results)
	if err != nil {
		httpErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return feed.Page{}, &APIError{Class: ErrorClassDecode, Message: "decode feed documents", Err: err}
	}

	return feed.Page{Items: docs, HasMore: env.HasNext()}, nil
}

// FetchLink fetches the envelope behind a next link. Absolute links must use
// the scheme and host of the configured API so credentials stay on it.
func (c *Client) FetchLink(ctx context.Context, link string) (*pagination.Envelope, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("parse link %q: %w", link, err)
	}
	if u.IsAbs() && (!strings.EqualFold(u.Scheme, c.baseURL.Scheme) || u.Host != c.baseURL.Host) {
		return nil, fmt.Errorf("link %q does not belong to %s://%s", link, c.baseURL.Scheme, c.baseURL.Host)
	}
	return c.envelope(ctx, link)
}

func (c *Client) envelope(ctx context.Context, ref string) (*pagination.Envelope, error) {
	resp, err := c.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	env, err := pagination.DecodeEnvelope(resp.Body)
	if err != nil {
		httpErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &APIError{StatusCode: resp.StatusCode, Class: ErrorClassDecode, Message: "decode envelope", Err: err}
	}
	return env, nil
}

// FeedPages binds filters to the numbered feed pages for the batch fetcher.
func (c *Client) FeedPages(filters feed.Filters) pagination.PageFetcher {
	return pagination.PageFetcherFunc(func(ctx context.Context, page int) (*pagination.Envelope, error) {
		return c.Envelope(ctx, page, filters)
	})
}
