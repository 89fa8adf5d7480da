package common

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// MaxPerPage caps list page sizes.
const MaxPerPage = 100

// Pagination holds pagination metadata for list responses.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
}

// ParsePagination extracts ?page= and ?limit= (or ?per_page=), capping the
// page size at MaxPerPage.
func ParsePagination(r *http.Request, defaultPerPage int) (page, perPage int) {
	q := r.URL.Query()
	page = QueryInt(q.Get("page"), 1, 0)
	if page < 1 {
		page = 1
	}
	raw := q.Get("limit")
	if raw == "" {
		raw = q.Get("per_page")
	}
	perPage = QueryInt(raw, defaultPerPage, MaxPerPage)
	if perPage < 1 {
		perPage = defaultPerPage
	}
	return page, perPage
}

// QueryInt parses a query value, falling back to def when it is missing or
// malformed. A positive max caps the result.
func QueryInt(value string, def, max int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		n = def
	}
	if max > 0 && n > max {
		n = max
	}
	return n
}

// Fingerprint hashes a string map into a stable hex digest regardless of key
// order.
func Fingerprint(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(values[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
