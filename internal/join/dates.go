package join

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the minute-precision layout used in schema documents.
const DateLayout = "2006-01-02 15:04"

var (
	fullDate  = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\s+(\d{2}:\d{2})$`)
	monthDay  = regexp.MustCompile(`^(\d{2}-\d{2})\s+(\d{2}:\d{2})$`)
	clockTime = regexp.MustCompile(`^\d{2}:\d{2}$`)
)

// NormalizeDate turns the site's relative "time before" strings into
// DateLayout relative to now. Unrecognized input is returned trimmed.
func NormalizeDate(raw string, now time.Time) string {
	s := strings.TrimSpace(raw)
	switch {
	case fullDate.MatchString(s):
		m := fullDate.FindStringSubmatch(s)
		return m[1] + " " + m[2]
	case strings.HasPrefix(s, "今天"):
		rest := strings.TrimSpace(strings.TrimPrefix(s, "今天"))
		if clockTime.MatchString(rest) {
			return now.Format("2006-01-02") + " " + rest
		}
	case strings.HasPrefix(s, "昨天"):
		rest := strings.TrimSpace(strings.TrimPrefix(s, "昨天"))
		if clockTime.MatchString(rest) {
			return now.AddDate(0, 0, -1).Format("2006-01-02") + " " + rest
		}
	case strings.HasSuffix(s, "分钟前"):
		if n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(s, "分钟前"))); err == nil {
			return now.Add(-time.Duration(n) * time.Minute).Format(DateLayout)
		}
	case strings.HasSuffix(s, "秒前"):
		if n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(s, "秒前"))); err == nil {
			return now.Add(-time.Duration(n) * time.Second).Format(DateLayout)
		}
	case monthDay.MatchString(s):
		m := monthDay.FindStringSubmatch(s)
		return strconv.Itoa(now.Year()) + "-" + m[1] + " " + m[2]
	}
	return s
}

// FormatMillis renders a unix millisecond timestamp in loc; nil stays nil.
func FormatMillis(ms *int64, loc *time.Location) *string {
	if ms == nil {
		return nil
	}
	s := time.UnixMilli(*ms).In(loc).Format(DateLayout)
	return &s
}

// activeWindow is the time between posting and the latest comment, or def
// when either date cannot be read.
func activeWindow(posted, latestComment string, loc *time.Location, def time.Duration) int64 {
	if latestComment == "" {
		return int64(def / time.Second)
	}
	p, err := time.ParseInLocation(DateLayout, posted, loc)
	if err != nil {
		return int64(def / time.Second)
	}
	l, err := time.ParseInLocation(DateLayout, latestComment, loc)
	if err != nil {
		return int64(def / time.Second)
	}
	return int64(l.Sub(p) / time.Second)
}
