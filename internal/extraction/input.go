package extraction

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/MikeSquared-Agency/threadqa/internal/matcher"
)

var idPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// InputError is raised before any network activity when a request cannot be
// understood.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Request is the caller-facing shape of an extraction, as received over HTTP,
// NATS or the batch file.
type Request struct {
	SubmissionID   string   `json:"submission_id" yaml:"submission"`
	Accounts       []string `json:"accounts" yaml:"accounts"`
	IncludeDeleted bool     `json:"include_deleted" yaml:"include_deleted"`
}

// Spec is a validated request.
type Spec struct {
	SubmissionID   string
	WatchList      matcher.WatchList
	IncludeDeleted bool
}

// ParseRequest validates r. Each account entry may itself hold several
// names separated by commas or newlines.
func ParseRequest(r Request) (Spec, error) {
	id, err := ParseSubmissionRef(r.SubmissionID)
	if err != nil {
		return Spec{}, err
	}
	wl, err := ParseWatchList(strings.Join(r.Accounts, "\n"))
	if err != nil {
		return Spec{}, err
	}
	return Spec{SubmissionID: id, WatchList: wl, IncludeDeleted: r.IncludeDeleted}, nil
}

// ParseSubmissionRef accepts a full submission URL, a short link or a bare
// id and returns the id.
func ParseSubmissionRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", &InputError{Field: "submission", Reason: "empty reference"}
	}
	if idPattern.MatchString(ref) {
		return ref, nil
	}

	raw := ref
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || strings.ContainsAny(ref, " \t\n") {
		return "", &InputError{Field: "submission", Reason: fmt.Sprintf("%q is not a url or id", ref)}
	}

	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")

	var id string
	if host == "redd.it" {
		if len(segments) > 0 {
			id = segments[0]
		}
	} else {
		for i, seg := range segments {
			if seg == "comments" && i+1 < len(segments) {
				id = segments[i+1]
				break
			}
		}
	}

	if !idPattern.MatchString(id) {
		return "", &InputError{Field: "submission", Reason: fmt.Sprintf("no submission id in %q", ref)}
	}
	return id, nil
}

// ParseWatchList splits text on newlines and commas. An empty result is an
// InputError.
func ParseWatchList(text string) (matcher.WatchList, error) {
	names := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == ',' || r == '\r' })
	wl := matcher.NewWatchList(names)
	if wl.Len() == 0 {
		return matcher.WatchList{}, &InputError{Field: "accounts", Reason: "watch-list is empty"}
	}
	return wl, nil
}
