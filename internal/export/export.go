// Package export renders extraction results for people and other tools.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/MikeSquared-Agency/threadqa/internal/extraction"
	"github.com/MikeSquared-Agency/threadqa/internal/forest"
)

type Format string

const (
	Markdown Format = "markdown"
	Text     Format = "text"
	JSON     Format = "json"
)

// ParseFormat accepts the format names and their common file extensions.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markdown", "md", "":
		return Markdown, nil
	case "text", "txt":
		return Text, nil
	case "json":
		return JSON, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

func (f Format) Extension() string {
	switch f {
	case Text:
		return ".txt"
	case JSON:
		return ".json"
	}
	return ".md"
}

func (f Format) ContentType() string {
	switch f {
	case Text:
		return "text/plain; charset=utf-8"
	case JSON:
		return "application/json"
	}
	return "text/markdown; charset=utf-8"
}

// Render writes res in format f.
func Render(w io.Writer, f Format, res *extraction.Result) error {
	switch f {
	case Markdown, Text:
		_, err := io.WriteString(w, blocks(res))
		return err
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(pairsDoc(res))
	}
	return fmt.Errorf("unknown export format %q", f)
}

// blocks lays out every pair as "Q:" then one "A:" per answer, each header
// on its own line followed by the verbatim body and a blank line, with one
// extra blank line between pairs.
func blocks(res *extraction.Result) string {
	var lines []string
	for _, p := range res.Pairs {
		lines = append(lines, "Q:", p.Question.Body, "")
		for _, a := range p.Answers {
			lines = append(lines, "A:", a.Body, "")
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

type jsonComment struct {
	ID         string  `json:"id"`
	Author     string  `json:"author"`
	Body       string  `json:"body"`
	CreatedUTC float64 `json:"created_utc"`
	Permalink  string  `json:"permalink"`
}

type jsonPair struct {
	Question jsonComment   `json:"question"`
	Answers  []jsonComment `json:"answers"`
}

func toJSON(c forest.Comment) jsonComment {
	jc := jsonComment{ID: c.ID, Author: c.Author, Body: c.Body, Permalink: c.Permalink}
	if !c.CreatedAt.IsZero() {
		jc.CreatedUTC = float64(c.CreatedAt.Unix())
	}
	return jc
}

func pairsDoc(res *extraction.Result) []jsonPair {
	doc := make([]jsonPair, 0, len(res.Pairs))
	for _, p := range res.Pairs {
		jp := jsonPair{Question: toJSON(p.Question), Answers: make([]jsonComment, 0, len(p.Answers))}
		for _, a := range p.Answers {
			jp.Answers = append(jp.Answers, toJSON(a))
		}
		doc = append(doc, jp)
	}
	return doc
}
