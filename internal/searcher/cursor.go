package searcher

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/docdex/docdex/pkg/types"
)

// cursor binds a pagination offset to the query and index state that
// produced it. The encoding is opaque to callers: base64 over JSON.
type cursor struct {
	QueryHash    string `json:"query_hash"`
	Offset       int    `json:"offset"`
	IndexVersion string `json:"index_version"`
}

func encodeCursor(c cursor) string {
	data, _ := json.Marshal(c)
	return base64.StdEncoding.EncodeToString(data)
}

func decodeCursor(s string) (cursor, error) {
	var c cursor
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("%w: %v", types.ErrInvalidCursor, err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("%w: %v", types.ErrInvalidCursor, err)
	}
	if c.Offset < 0 {
		return c, fmt.Errorf("%w: negative offset", types.ErrInvalidCursor)
	}
	return c, nil
}

// hashQuery produces the short query binding stored in cursors.
func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])[:8]
}

// resolveOffset turns an optional cursor into a paging offset. A cursor is
// honored only when its query hash matches the presented query and the
// index has not changed underneath it; anything else resets to offset 0 so
// a reused or stale cursor can never produce a nonsensical page.
func resolveOffset(rawCursor, query, indexVersion string) (int, string) {
	if rawCursor == "" {
		return 0, ""
	}
	c, err := decodeCursor(rawCursor)
	if err != nil {
		return 0, "invalid cursor ignored"
	}
	if c.QueryHash != hashQuery(query) {
		return 0, "cursor belongs to a different query; starting from the first page"
	}
	if c.IndexVersion != indexVersion {
		return 0, "index changed since cursor was issued; starting from the first page"
	}
	return c.Offset, ""
}
