// Package storage holds what the transaction ledger backends share.
package storage

import (
	"errors"
	"math"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

var ErrUserNotFound = errors.New("user not found")

// Paginate clamps a 1-based page and a page size to sane values. The page is
// capped so that (page-1)*limit always fits in an int32 offset.
func Paginate(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if maxPage := math.MaxInt32 / limit; page > maxPage {
		page = maxPage
	}
	return page, limit
}
