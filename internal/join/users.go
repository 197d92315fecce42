package join

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/JakeFAU/snowball-crawler/internal/storage"
)

// Reference kinds recorded in user aggregates.
const (
	RefNews    = "n"
	RefComment = "c"
)

// UserName is the blob name of a user aggregate.
func UserName(userID int64) string {
	return "user_" + strconv.FormatInt(userID, 10) + ".json"
}

// mergeUser reads the user's aggregate, unions ref into the set named by
// kind, refreshes the profile fields and writes it back. It returns the
// aggregate's locator.
func (j *Joiner) mergeUser(ctx context.Context, user UserProfile, ref, kind string) (string, error) {
	name := UserName(user.ID)
	var agg UserAggregate
	data, _, err := j.blobs.Read(ctx, storage.ContainerUser, name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return "", fmt.Errorf("read user %d: %w", user.ID, err)
	default:
		if err := json.Unmarshal(data, &agg); err != nil {
			return "", fmt.Errorf("decode user %d: %w", user.ID, err)
		}
	}

	switch kind {
	case RefComment:
		agg.UserComments = union(agg.UserComments, ref)
	case RefNews:
		agg.UserNews = union(agg.UserNews, ref)
	default:
		return "", fmt.Errorf("unknown reference kind %q", kind)
	}
	if agg.UserComments == nil {
		agg.UserComments = []string{}
	}
	if agg.UserNews == nil {
		agg.UserNews = []string{}
	}
	agg.UserID = user.ID
	agg.ScreenName = user.ScreenName
	agg.Description = user.Description
	agg.VerifiedDescription = user.VerifiedDescription
	agg.Gender = user.Gender
	agg.Province = user.Province
	agg.City = user.City
	agg.Followers = user.FollowersCount
	agg.Following = user.FriendsCount
	agg.PostCount = user.StatusCount
	agg.StocksCount = user.StocksCount
	agg.WebsiteURL = j.cfg.SiteURL + "/u" + user.Profile

	out, err := json.Marshal(agg)
	if err != nil {
		return "", fmt.Errorf("encode user %d: %w", user.ID, err)
	}
	locator, err := j.blobs.Write(ctx, storage.ContainerUser, name, out, nil)
	if err != nil {
		return "", fmt.Errorf("write user %d: %w", user.ID, err)
	}
	return locator, nil
}

func union(set []string, ref string) []string {
	for _, s := range set {
		if s == ref {
			return set
		}
	}
	out := append(append([]string(nil), set...), ref)
	sort.Strings(out)
	return out
}
