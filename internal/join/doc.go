// Package join merges an article snapshot with its comment log into a schema
// document, maintains per-user aggregates and announces finished documents.
//
// User aggregates are read, merged and written back without any lock. Two
// joins touching the same user at the same time can lose one of the merged
// references; the next join for either document restores it.
package join
