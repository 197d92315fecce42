package pipeline

import (
	"strconv"

	"github.com/JakeFAU/snowball-crawler/internal/crawler"
)

// Default queue and namespace names.
const (
	QueueDiscovery = "snowball:discovery"
	QueueArticles  = "snowball:articles"
	QueueComments  = "snowball:comments"
	QueueUpdates   = "snowball:updates"

	NamespaceDiscovery = "snowball:discovery"
	NamespaceArticles  = "snowball:articles"
	NamespaceComments  = "snowball:comments"
	NamespaceSchema    = "snowball:schema"
)

// Stage names.
const (
	StageDiscovery = "discovery"
	StageArticles  = "articles"
	StageComments  = "comments"
	StageJoin      = "join"
)

// CategoryJob is a discovery queue item.
type CategoryJob struct {
	Category int64 `json:"category"`
}

// Entity returns the crawl entity for the category.
func (j CategoryJob) Entity() crawler.Entity {
	id := crawler.FormatID(j.Category)
	return crawler.Entity{ID: id, Attrs: map[string]string{attrCategory: id}}
}

// ArticleJob is an article or comment queue item. Time is the unix second of
// the last visit; zero marks a job that was never crawled. PendingComments
// marks an article whose comment thread still has to be queued.
type ArticleJob struct {
	ID              int64  `json:"id"`
	Link            string `json:"link,omitempty"`
	Time            int64  `json:"time"`
	Category        int64  `json:"category,omitempty"`
	PendingComments bool   `json:"pending_comments,omitempty"`
}

// Entity returns the crawl entity for the article. Category and link travel
// in the attributes.
func (j ArticleJob) Entity() crawler.Entity {
	attrs := map[string]string{attrLink: j.Link}
	if j.Category != 0 {
		attrs[attrCategory] = strconv.FormatInt(j.Category, 10)
	}
	return crawler.Entity{ID: crawler.FormatID(j.ID), Attrs: attrs}
}

const (
	attrCategory = "category"
	attrLink     = "link"
)
