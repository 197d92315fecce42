// Package pipeline connects the crawl stages through their queues.
//
// Discovery walks category timelines and queues article jobs. The article
// stage snapshots each article version, queues the article's comment thread
// the first time it sees it and notifies the join stage. The comment stage
// appends new comments to the article's comment log and notifies the join
// stage as well. Join rebuilds the schema document.
//
// Each stage is a set of Runners. A runner leases one item at a time, runs
// its stage's Handler and settles the lease; store outages are retried with
// the lease still held.
package pipeline
