package crawler

// StopPredicate decides when a cycle's page loop ends and where the next
// cycle resumes.
type StopPredicate interface {
	// Done reports whether the cycle ends after page. latestID is the
	// watermark's position at the start of the cycle.
	Done(page Page, latestID int64) bool
	// Resume returns the token to persist when the cycle ended on page.
	Resume(page Page) string
}

// StopOnEmpty ends a cycle at the first empty page. It suits ascending
// streams; the next cycle continues from the cursor the last page returned.
type StopOnEmpty struct{}

// Done reports an empty page.
func (StopOnEmpty) Done(page Page, _ int64) bool {
	return len(page.Items) == 0
}

// Resume continues from the last page's cursor.
func (StopOnEmpty) Resume(page Page) string {
	return page.Next
}

// StopOnSeen ends a cycle once a page contains an already seen id, or is
// empty. It suits newest-first streams, which are caught up at that point and
// restart from the head next cycle.
type StopOnSeen struct{}

// Done reports an empty page or one reaching latestID.
func (StopOnSeen) Done(page Page, latestID int64) bool {
	if len(page.Items) == 0 {
		return true
	}
	for _, item := range page.Items {
		if item.ID <= latestID {
			return true
		}
	}
	return false
}

// Resume rewinds to the head of the stream.
func (StopOnSeen) Resume(Page) string {
	return ""
}

// SinglePage ends every cycle after one fetch. It suits snapshot sources
// where the item id is a version number.
type SinglePage struct{}

// Done always reports true.
func (SinglePage) Done(Page, int64) bool {
	return true
}

// Resume always restarts from the beginning.
func (SinglePage) Resume(Page) string {
	return ""
}
