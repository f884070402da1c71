package reddit

import (
	"fmt"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/threadqa/internal/forest"
	"github.com/tidwall/gjson"
)

// parseSubmission decodes the two-listing response of a comments page:
// index 0 holds the submission, index 1 the comment listing.
func parseSubmission(body []byte) (forest.Submission, []forest.Item, error) {
	if !gjson.ValidBytes(body) {
		return forest.Submission{}, nil, ErrMalformed
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsArray() {
		return forest.Submission{}, nil, fmt.Errorf("%w: expected listing pair", ErrMalformed)
	}

	post := doc.Get("0.data.children.0.data")
	if !post.Exists() {
		return forest.Submission{}, nil, ErrNotFound
	}
	if cat := post.Get("removed_by_category").String(); cat != "" {
		return forest.Submission{}, nil, fmt.Errorf("%w: %s", ErrRemoved, cat)
	}

	sub := forest.Submission{
		ID:          post.Get("id").String(),
		Title:       post.Get("title").String(),
		Author:      authorOf(post),
		Subreddit:   post.Get("subreddit").String(),
		URL:         post.Get("url").String(),
		Permalink:   post.Get("permalink").String(),
		CreatedAt:   unixTime(post.Get("created_utc")),
		NumComments: int(post.Get("num_comments").Int()),
	}
	if sub.ID == "" {
		return forest.Submission{}, nil, fmt.Errorf("%w: submission without id", ErrMalformed)
	}

	return sub, parseThings(doc.Get("1.data.children")), nil
}

// parseMoreChildren decodes a morechildren response. Things arrive flat, in
// the platform's order, with parent references to rebuild nesting.
func parseMoreChildren(body []byte) ([]forest.Item, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrMalformed
	}
	doc := gjson.ParseBytes(body)
	if errs := doc.Get("json.errors"); errs.IsArray() && len(errs.Array()) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, errs.Raw)
	}
	things := doc.Get("json.data.things")
	if !things.IsArray() {
		return nil, fmt.Errorf("%w: missing things", ErrMalformed)
	}
	return parseThings(things), nil
}

func parseThings(list gjson.Result) []forest.Item {
	var items []forest.Item
	list.ForEach(func(_, thing gjson.Result) bool {
		data := thing.Get("data")
		switch thing.Get("kind").String() {
		case "t1":
			c := parseComment(data)
			item := forest.Item{Comment: &c}
			if replies := data.Get("replies"); replies.IsObject() {
				item.Replies = parseThings(replies.Get("data.children"))
			}
			items = append(items, item)
		case "more":
			m := forest.More{
				ID:       data.Get("id").String(),
				ParentID: parentRef(data.Get("parent_id").String()),
				Count:    int(data.Get("count").Int()),
			}
			for _, id := range data.Get("children").Array() {
				if s := id.String(); s != "" {
					m.Children = append(m.Children, s)
				}
			}
			items = append(items, forest.Item{More: &m})
		}
		return true
	})
	return items
}

func parseComment(data gjson.Result) forest.Comment {
	return forest.Comment{
		ID:          data.Get("id").String(),
		ParentID:    parentRef(data.Get("parent_id").String()),
		Author:      authorOf(data),
		Body:        data.Get("body").String(),
		Permalink:   data.Get("permalink").String(),
		CreatedAt:   unixTime(data.Get("created_utc")),
		Score:       int(data.Get("score").Int()),
		IsSubmitter: data.Get("is_submitter").Bool(),
	}
}

// parentRef strips the kind prefix from a fullname. Submission parents map
// to the empty reference.
func parentRef(fullname string) string {
	kind, id, ok := strings.Cut(fullname, "_")
	if !ok {
		return fullname
	}
	if kind == "t3" {
		return ""
	}
	return id
}

func authorOf(data gjson.Result) string {
	if a := data.Get("author"); a.Exists() && a.String() != "" {
		return a.String()
	}
	return "[deleted]"
}

func unixTime(v gjson.Result) time.Time {
	if !v.Exists() {
		return time.Time{}
	}
	return time.Unix(int64(v.Float()), 0).UTC()
}
