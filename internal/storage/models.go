package storage

import (
	"net/url"
	"strings"
	"time"
)

// DocumentRow is one persisted document. ID is the frontier-assigned id and
// joins the row to its record in a content file.
type DocumentRow struct {
	ID            int64     `json:"id"`
	URL           string    `json:"url"`
	Title         string    `json:"title,omitempty"`
	Domain        string    `json:"domain,omitempty"`
	StatusCode    int       `json:"statusCode,omitempty"`
	Stored        bool      `json:"stored"`
	ContentType   string    `json:"contentType,omitempty"`
	ContentLength int64     `json:"contentLength,omitempty"`
	CreateTime    time.Time `json:"createTime"`
	UpdateTime    time.Time `json:"updateTime,omitempty"`
}

// DocumentPatch is a partial update. Only non-nil fields are written.
type DocumentPatch struct {
	ID            int64
	URL           *string
	Title         *string
	Domain        *string
	StatusCode    *int
	Stored        *bool
	ContentType   *string
	ContentLength *int64
	CreateTime    *time.Time
	UpdateTime    *time.Time
}

// Ptr returns a pointer to v, for building patches
func Ptr[T any](v T) *T {
	return &v
}

// DomainOf returns the lowercase host of rawURL, or "" if it cannot be parsed
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

type assignment struct {
	column string
	value  any
}

// assignments lists the columns a patch touches in a fixed column order.
// Times are passed through encodeTime so both backends see the same values.
func (p DocumentPatch) assignments(encodeTime func(time.Time) any) []assignment {
	var out []assignment
	if p.URL != nil {
		out = append(out, assignment{"url", *p.URL})
	}
	if p.Title != nil {
		out = append(out, assignment{"title", *p.Title})
	}
	if p.Domain != nil {
		out = append(out, assignment{"domain", *p.Domain})
	}
	if p.StatusCode != nil {
		out = append(out, assignment{"status_code", *p.StatusCode})
	}
	if p.Stored != nil {
		out = append(out, assignment{"stored", boolToInt(*p.Stored)})
	}
	if p.ContentType != nil {
		out = append(out, assignment{"content_type", *p.ContentType})
	}
	if p.ContentLength != nil {
		out = append(out, assignment{"content_length", *p.ContentLength})
	}
	if p.CreateTime != nil {
		out = append(out, assignment{"create_time", encodeTime(*p.CreateTime)})
	}
	if p.UpdateTime != nil {
		out = append(out, assignment{"update_time", encodeTime(*p.UpdateTime)})
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
