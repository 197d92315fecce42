package snowball

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/snowball-crawler/internal/crawler"
)

// ErrNoArticleData reports an article page without the embedded status JSON.
var ErrNoArticleData = errors.New("article page carries no status data")

const statusMarker = "window.SNOWMAN_STATUS"

// ListEntry is one news item from a category timeline.
type ListEntry struct {
	ID     int64  `json:"id"`
	Link   string `json:"link"`
	Target string `json:"target"`
}

// ListFetcher pages through a category timeline newest first. The first
// request asks for items newer than the watermark; later requests walk down
// with the max id the previous page handed back.
type ListFetcher struct {
	client *Client
	count  int
}

// NewListFetcher builds a ListFetcher requesting count items per page.
func NewListFetcher(client *Client, count int) *ListFetcher {
	if count <= 0 {
		count = 10
	}
	return &ListFetcher{client: client, count: count}
}

type listResponse struct {
	List []struct {
		ID   int64  `json:"id"`
		Data string `json:"data"`
	} `json:"list"`
	NextMaxID int64 `json:"next_max_id"`
}

// FetchPage fetches one timeline page for the category named by entity.ID.
func (f *ListFetcher) FetchPage(ctx context.Context, entity crawler.Entity, cursor crawler.Cursor) (crawler.Page, error) {
	params := url.Values{}
	params.Set("count", strconv.Itoa(f.count))
	params.Set("category", entity.ID)
	if cursor.Token == "" {
		params.Set("since_id", strconv.FormatInt(cursor.LatestID, 10))
		params.Set("max_id", "-1")
	} else {
		params.Set("since_id", "-1")
		params.Set("max_id", cursor.Token)
	}
	cfg := f.client.Config()
	resp, err := f.client.Get(ctx, cfg.BaseURL+cfg.ListPath+"?"+params.Encode())
	if err != nil {
		return crawler.Page{}, err
	}

	var body listResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return crawler.Page{}, fmt.Errorf("decode list: %w", err)
	}
	page := crawler.Page{Next: cursor.Token}
	for _, raw := range body.List {
		var data struct {
			Target string `json:"target"`
		}
		if err := json.Unmarshal([]byte(raw.Data), &data); err != nil {
			return crawler.Page{}, fmt.Errorf("decode list item %d: %w", raw.ID, err)
		}
		payload, err := json.Marshal(ListEntry{ID: raw.ID, Link: cfg.BaseURL + data.Target, Target: data.Target})
		if err != nil {
			return crawler.Page{}, fmt.Errorf("encode list item %d: %w", raw.ID, err)
		}
		page.Items = append(page.Items, crawler.Item{ID: raw.ID, Payload: payload})
	}
	if body.NextMaxID > 0 && len(body.List) > 0 {
		page.Next = strconv.FormatInt(body.NextMaxID, 10)
	}
	return page, nil
}

// Article is the subset of the embedded status the pipeline reads.
type Article struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	CreatedAt int64  `json:"created_at"`
	EditedAt  *int64 `json:"edited_at"`
	Target    string `json:"target"`
}

// Version is the edit timestamp, or the creation timestamp for unedited
// articles.
func (a Article) Version() int64 {
	if a.EditedAt != nil && *a.EditedAt > 0 {
		return *a.EditedAt
	}
	return a.CreatedAt
}

// ArticleFetcher loads an article page and returns its status JSON as a
// single item whose id is the article version.
type ArticleFetcher struct {
	client *Client
}

// NewArticleFetcher builds an ArticleFetcher.
func NewArticleFetcher(client *Client) *ArticleFetcher {
	return &ArticleFetcher{client: client}
}

// FetchPage fetches the page linked from entity's "link" attribute.
func (f *ArticleFetcher) FetchPage(ctx context.Context, entity crawler.Entity, _ crawler.Cursor) (crawler.Page, error) {
	link := entity.Attr("link")
	if link == "" {
		return crawler.Page{}, fmt.Errorf("article %s has no link", entity.ID)
	}
	resp, err := f.client.Get(ctx, link)
	if err != nil {
		return crawler.Page{}, err
	}
	raw, err := ExtractStatus(resp.Body)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("article %s: %w", entity.ID, err)
	}
	var article Article
	if err := json.Unmarshal(raw, &article); err != nil {
		return crawler.Page{}, fmt.Errorf("decode article %s: %w", entity.ID, err)
	}
	return crawler.Page{Items: []crawler.Item{{ID: article.Version(), Payload: raw}}}, nil
}

// ExtractStatus finds the script assigning window.SNOWMAN_STATUS and returns
// the assigned JSON object.
func ExtractStatus(html []byte) (json.RawMessage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse article html: %w", err)
	}
	var (
		raw    json.RawMessage
		decErr error
	)
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		idx := strings.Index(text, statusMarker)
		if idx < 0 {
			return true
		}
		rest := text[idx+len(statusMarker):]
		eq := strings.Index(rest, "=")
		if eq < 0 {
			return true
		}
		dec := json.NewDecoder(strings.NewReader(rest[eq+1:]))
		dec.UseNumber()
		decErr = dec.Decode(&raw)
		return false
	})
	if decErr != nil {
		return nil, fmt.Errorf("decode status: %w", decErr)
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, ErrNoArticleData
	}
	return raw, nil
}

// CommentFetcher pages through an article's comments oldest first. Tokens
// are page numbers; a full page advances the token, a partial one repeats
// it so the next cycle re-reads the page that may still grow.
type CommentFetcher struct {
	client *Client
	count  int
}

// NewCommentFetcher builds a CommentFetcher requesting count comments per page.
func NewCommentFetcher(client *Client, count int) *CommentFetcher {
	if count <= 0 {
		count = 20
	}
	return &CommentFetcher{client: client, count: count}
}

type commentsResponse struct {
	Comments []json.RawMessage `json:"comments"`
	Count    int               `json:"count"`
}

// FetchPage fetches one comment page of the article named by entity.ID.
func (f *CommentFetcher) FetchPage(ctx context.Context, entity crawler.Entity, cursor crawler.Cursor) (crawler.Page, error) {
	page := 1
	if cursor.Token != "" {
		n, err := strconv.Atoi(cursor.Token)
		if err != nil || n < 1 {
			return crawler.Page{}, fmt.Errorf("invalid comment page %q", cursor.Token)
		}
		page = n
	}
	params := url.Values{}
	params.Set("id", entity.ID)
	params.Set("page", strconv.Itoa(page))
	params.Set("count", strconv.Itoa(f.count))
	cfg := f.client.Config()
	resp, err := f.client.Get(ctx, cfg.BaseURL+cfg.CommentsPath+"?"+params.Encode())
	if err != nil {
		return crawler.Page{}, err
	}

	var body commentsResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return crawler.Page{}, fmt.Errorf("decode comments: %w", err)
	}
	out := crawler.Page{Total: body.Count, Next: cursor.Token}
	for _, raw := range body.Comments {
		var head struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return crawler.Page{}, fmt.Errorf("decode comment: %w", err)
		}
		out.Items = append(out.Items, crawler.Item{ID: head.ID, Payload: raw})
	}
	if len(body.Comments) >= f.count {
		out.Next = strconv.Itoa(page + 1)
	}
	return out, nil
}
