package join

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/crawler"
	"github.com/JakeFAU/snowball-crawler/internal/publisher"
	"github.com/JakeFAU/snowball-crawler/internal/storage"
	"github.com/JakeFAU/snowball-crawler/internal/store"
)

// ErrNoArticle reports an update for an article whose snapshot is missing.
var ErrNoArticle = errors.New("article snapshot not found")

// Update kinds.
const (
	KindArticle  = "article"
	KindComments = "comments"
)

// Update is an update-notification queue item.
type Update struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Locator string `json:"locator,omitempty"`
}

// Event is published once a schema document has been written.
type Event struct {
	ID           string   `json:"id"`
	Locator      string   `json:"locator"`
	Comments     int      `json:"comments"`
	RelatedCodes []string `json:"related_codes"`
	Updated      int64    `json:"updated"`
}

// schemaRecord is the value upserted into the schema namespace.
type schemaRecord struct {
	Locator  string `json:"locator"`
	Comments int    `json:"comments"`
	Updated  int64  `json:"updated"`
}

// Config controls a Joiner.
type Config struct {
	// SiteURL prefixes article targets and user profiles.
	SiteURL string
	// Location renders timestamps and resolves relative dates.
	Location *time.Location
	// ActiveWindow is used when an article has no dated comments.
	ActiveWindow time.Duration
	Namespace    string
	Tag          string
	// Topic receives schema-ready events. Empty disables publishing.
	Topic string
}

// Deps are the collaborators of a Joiner. Publisher may be nil.
type Deps struct {
	Blobs      storage.Store
	Records    store.Store
	Publisher  publisher.Publisher
	Classifier *Classifier
	Clock      crawler.Clock
}

// Result reports one join.
type Result struct {
	ID       string
	Locator  string
	Comments int
	Users    int
	Outcome  store.Outcome
}

// Joiner builds schema documents.
type Joiner struct {
	cfg        Config
	blobs      storage.Store
	records    store.Store
	publisher  publisher.Publisher
	classifier *Classifier
	clock      crawler.Clock
	logger     *zap.Logger
}

// New validates deps and applies defaults.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Joiner, error) {
	if deps.Blobs == nil || deps.Records == nil || deps.Clock == nil {
		return nil, errors.New("joiner requires blobs, records and clock")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = 7 * 24 * time.Hour
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "snowball:schema"
	}
	if cfg.SiteURL == "" {
		cfg.SiteURL = "https://xueqiu.com"
	}
	if deps.Classifier == nil {
		deps.Classifier = NewClassifier(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Joiner{
		cfg:        cfg,
		blobs:      deps.Blobs,
		records:    deps.Records,
		publisher:  deps.Publisher,
		classifier: deps.Classifier,
		clock:      deps.Clock,
		logger:     logger,
	}, nil
}

// Join rebuilds the schema document of upd.ID from its article snapshot and
// comment log.
func (j *Joiner) Join(ctx context.Context, upd Update) (Result, error) {
	if upd.ID == "" {
		return Result{}, errors.New("update has no id")
	}
	logger := j.logger.With(zap.String("article", upd.ID), zap.String("kind", upd.Kind))
	now := j.clock.Now().In(j.cfg.Location)

	data, _, err := j.blobs.Read(ctx, storage.ContainerSource, upd.ID+".json")
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, fmt.Errorf("join %s: %w", upd.ID, ErrNoArticle)
	}
	if err != nil {
		return Result{}, fmt.Errorf("read article %s: %w", upd.ID, err)
	}
	var article Article
	if err := json.Unmarshal(data, &article); err != nil {
		return Result{}, fmt.Errorf("decode article %s: %w", upd.ID, err)
	}
	comments, err := j.readComments(ctx, upd.ID)
	if err != nil {
		return Result{}, err
	}

	ref, err := storage.ObjectPath(storage.ContainerSchema, upd.ID+".json")
	if err != nil {
		return Result{}, err
	}
	schema := Schema{
		ID:              article.ID,
		UserID:          article.UserID,
		Title:           article.Title,
		WebsiteURL:      j.cfg.SiteURL + article.Target,
		CreatedAt:       FormatMillis(article.CreatedAt, j.cfg.Location),
		EditedAt:        FormatMillis(article.EditedAt, j.cfg.Location),
		PostedAt:        NormalizeDate(article.TimeBefore, now),
		Abstract:        article.Description,
		ReplyCount:      article.ReplyCount,
		RetweetCount:    article.RetweetCount,
		FavCount:        article.FavCount,
		LikeCount:       article.LikeCount,
		RewardCount:     article.RewardCount,
		RewardAmount:    article.RewardAmount,
		RewardUserCount: article.RewardUserCount,
		Comments:        make([]SchemaComment, 0, len(comments)),
	}

	users := 0
	latest := ""
	for _, c := range comments {
		sc := SchemaComment{
			CommentID:       c.ID,
			Description:     StripMarkup(c.Description),
			Text:            StripMarkup(c.Text),
			CreatedAt:       FormatMillis(c.CreatedAt, j.cfg.Location),
			PostedAt:        NormalizeDate(c.TimeBefore, now),
			LikeCount:       c.LikeCount,
			RewardAmount:    c.RewardAmount,
			RewardCount:     c.RewardCount,
			RewardUserCount: c.RewardUserCount,
			UserID:          c.UserID,
		}
		if c.ReplyComment != nil {
			id := c.ReplyComment.ID
			sc.ReplyCommentID = &id
		}
		if sc.PostedAt > latest {
			latest = sc.PostedAt
		}
		if c.User.ID != 0 {
			sc.UserURL, err = j.mergeUser(ctx, c.User, ref, RefComment)
			if err != nil {
				return Result{}, err
			}
			users++
		}
		schema.Comments = append(schema.Comments, sc)
	}
	schema.ActiveWindow = activeWindow(schema.PostedAt, latest, j.cfg.Location, j.cfg.ActiveWindow)

	text := StripMarkup(article.Text)
	schema.RelatedCodes = j.classifier.Classify(text)
	schema.TextContent, err = j.blobs.Write(ctx, storage.ContainerText, "text_"+upd.ID+".txt", []byte(text), nil)
	if err != nil {
		return Result{}, fmt.Errorf("write text %s: %w", upd.ID, err)
	}
	if article.User.ID != 0 {
		schema.UserURL, err = j.mergeUser(ctx, article.User, ref, RefNews)
		if err != nil {
			return Result{}, err
		}
		users++
	}

	doc, err := json.Marshal(schema)
	if err != nil {
		return Result{}, fmt.Errorf("encode schema %s: %w", upd.ID, err)
	}
	locator, err := j.blobs.Write(ctx, storage.ContainerSchema, upd.ID+".json", doc, storage.Metadata{"newsid": upd.ID})
	if err != nil {
		return Result{}, fmt.Errorf("write schema %s: %w", upd.ID, err)
	}

	rec, err := store.NewRecord(upd.ID, schemaRecord{Locator: locator, Comments: len(comments), Updated: now.UnixMilli()}, now, j.cfg.Tag, j.cfg.Namespace+":")
	if err != nil {
		return Result{}, err
	}
	outcomes, err := j.records.Upsert(ctx, j.cfg.Namespace, rec)
	if err != nil {
		return Result{}, fmt.Errorf("record schema %s: %w", upd.ID, err)
	}

	if j.publisher != nil && j.cfg.Topic != "" {
		event := Event{ID: upd.ID, Locator: locator, Comments: len(comments), RelatedCodes: schema.RelatedCodes, Updated: now.UnixMilli()}
		if _, err := j.publisher.Publish(ctx, j.cfg.Topic, event); err != nil {
			return Result{}, fmt.Errorf("publish schema %s: %w", upd.ID, err)
		}
	}

	logger.Debug("schema written", zap.String("locator", locator), zap.Int("comments", len(comments)), zap.Int("users", users))
	return Result{ID: upd.ID, Locator: locator, Comments: len(comments), Users: users, Outcome: outcomes[0]}, nil
}

func (j *Joiner) readComments(ctx context.Context, id string) ([]Comment, error) {
	data, _, err := j.blobs.Read(ctx, storage.ContainerSource, id+".yaml")
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read comments %s: %w", id, err)
	}
	return DecodeLog(data)
}
