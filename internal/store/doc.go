// Package store defines the versioned record store used for crawl watermarks
// and derived-artifact locators. Implementations live in sub-packages; this
// package must not import database drivers or concrete clients.
package store
