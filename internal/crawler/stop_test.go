package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStopPredicates(t *testing.T) {
	t.Parallel()

	full := Page{Items: items(7, 8), Next: "3"}
	reaching := Page{Items: items(9, 5), Next: "5"}
	empty := Page{Next: "4"}

	tests := []struct {
		name     string
		stop     StopPredicate
		page     Page
		done     bool
		resume   string
		latestID int64
	}{
		{name: "empty stops on empty page", stop: StopOnEmpty{}, page: empty, done: true, resume: "4", latestID: 5},
		{name: "empty continues past seen ids", stop: StopOnEmpty{}, page: reaching, done: false, resume: "5", latestID: 5},
		{name: "seen continues on fresh page", stop: StopOnSeen{}, page: full, done: false, resume: "", latestID: 5},
		{name: "seen stops on seen id", stop: StopOnSeen{}, page: reaching, done: true, resume: "", latestID: 5},
		{name: "seen stops on empty page", stop: StopOnSeen{}, page: empty, done: true, resume: "", latestID: 5},
		{name: "single page always stops", stop: SinglePage{}, page: full, done: true, resume: "", latestID: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.done, tt.stop.Done(tt.page, tt.latestID))
			require.Equal(t, tt.resume, tt.stop.Resume(tt.page))
		})
	}
}
