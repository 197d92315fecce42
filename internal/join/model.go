package join

// UserProfile is the author block embedded in articles and comments.
type UserProfile struct {
	ID                  int64  `json:"id" yaml:"id"`
	ScreenName          string `json:"screen_name" yaml:"screen_name"`
	Description         string `json:"description" yaml:"description"`
	VerifiedDescription string `json:"verified_description" yaml:"verified_description"`
	Gender              string `json:"gender" yaml:"gender"`
	Province            string `json:"province" yaml:"province"`
	City                string `json:"city" yaml:"city"`
	FollowersCount      int64  `json:"followers_count" yaml:"followers_count"`
	FriendsCount        int64  `json:"friends_count" yaml:"friends_count"`
	StatusCount         int64  `json:"status_count" yaml:"status_count"`
	StocksCount         int64  `json:"stocks_count" yaml:"stocks_count"`
	Profile             string `json:"profile" yaml:"profile"`
}

// Article is the stored article snapshot.
type Article struct {
	ID              int64       `json:"id"`
	UserID          int64       `json:"user_id"`
	Title           string      `json:"title"`
	Target          string      `json:"target"`
	CreatedAt       *int64      `json:"created_at"`
	EditedAt        *int64      `json:"edited_at"`
	TimeBefore      string      `json:"timeBefore"`
	Description     string      `json:"description"`
	Text            string      `json:"text"`
	ReplyCount      int64       `json:"reply_count"`
	RetweetCount    int64       `json:"retweet_count"`
	FavCount        int64       `json:"fav_count"`
	LikeCount       int64       `json:"like_count"`
	RewardCount     int64       `json:"reward_count"`
	RewardAmount    float64     `json:"reward_amount"`
	RewardUserCount int64       `json:"reward_user_count"`
	User            UserProfile `json:"user"`
}

// Comment is one document of a comment log.
type Comment struct {
	ID              int64   `yaml:"id"`
	Description     string  `yaml:"description"`
	Text            string  `yaml:"text"`
	CreatedAt       *int64  `yaml:"created_at"`
	TimeBefore      string  `yaml:"timeBefore"`
	LikeCount       int64   `yaml:"like_count"`
	RewardAmount    float64 `yaml:"reward_amount"`
	RewardCount     int64   `yaml:"reward_count"`
	RewardUserCount int64   `yaml:"reward_user_count"`
	ReplyComment    *struct {
		ID int64 `yaml:"id"`
	} `yaml:"reply_comment"`
	UserID int64       `yaml:"user_id"`
	User   UserProfile `yaml:"user"`
}

// SchemaComment is a comment as written into a schema document.
type SchemaComment struct {
	CommentID       int64   `json:"comment_id"`
	Description     string  `json:"description"`
	Text            string  `json:"text"`
	CreatedAt       *string `json:"created_at"`
	PostedAt        string  `json:"posted_at"`
	LikeCount       int64   `json:"like_count"`
	RewardAmount    float64 `json:"reward_amount"`
	RewardCount     int64   `json:"reward_count"`
	RewardUserCount int64   `json:"reward_user_count"`
	ReplyCommentID  *int64  `json:"reply_comment_id"`
	UserID          int64   `json:"user_id"`
	UserURL         string  `json:"user_url"`
}

// Schema is the joined document for one article.
type Schema struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	Title           string          `json:"title"`
	WebsiteURL      string          `json:"website_url"`
	CreatedAt       *string         `json:"created_at"`
	EditedAt        *string         `json:"edited_at"`
	PostedAt        string          `json:"posted_at"`
	Abstract        string          `json:"abstract"`
	ReplyCount      int64           `json:"reply_count"`
	RetweetCount    int64           `json:"retweet_count"`
	FavCount        int64           `json:"fav_count"`
	LikeCount       int64           `json:"like_count"`
	RewardCount     int64           `json:"reward_count"`
	RewardAmount    float64         `json:"reward_amount"`
	RewardUserCount int64           `json:"reward_user_count"`
	Comments        []SchemaComment `json:"comments"`
	ActiveWindow    int64           `json:"active_window"`
	RelatedCodes    []string        `json:"related_codes"`
	TextContent     string          `json:"text_content"`
	UserURL         string          `json:"user_url"`
}

// UserAggregate is the per-user document. UserNews and UserComments only
// ever grow.
type UserAggregate struct {
	UserID              int64    `json:"user_id"`
	ScreenName          string   `json:"screen_name"`
	Description         string   `json:"description"`
	VerifiedDescription string   `json:"verified_description"`
	Gender              string   `json:"gender"`
	Province            string   `json:"province"`
	City                string   `json:"city"`
	Followers           int64    `json:"followers"`
	Following           int64    `json:"following"`
	PostCount           int64    `json:"post_count"`
	StocksCount         int64    `json:"stocks_count"`
	WebsiteURL          string   `json:"website_url"`
	UserComments        []string `json:"user_comments"`
	UserNews            []string `json:"user_news"`
}
