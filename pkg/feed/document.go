package feed

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Hub is a topic a document is filed under.
type Hub struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Document is one unified document record in the feed (paper, post,
// hypothesis, question). Identity is ID; the controller imposes nothing else.
type Document struct {
	ID           int64               `json:"id"`
	DocumentType string              `json:"document_type"`
	Score        int                 `json:"score"`
	CreatedDate  time.Time           `json:"created_date"`
	Hubs         []Hub               `json:"hubs"`
	Documents    jsoniter.RawMessage `json:"documents,omitempty"`
}

// Title returns the title of the underlying document. The API returns either a
// single object or a list under "documents"; the first entry wins.
func (d Document) Title() string {
	if len(d.Documents) == 0 {
		return ""
	}

	type inner struct {
		Title      string `json:"title"`
		PaperTitle string `json:"paper_title"`
	}
	pick := func(in inner) string {
		if in.Title != "" {
			return in.Title
		}
		return in.PaperTitle
	}

	var one inner
	if err := json.Unmarshal(d.Documents, &one); err == nil {
		return pick(one)
	}
	var many []inner
	if err := json.Unmarshal(d.Documents, &many); err == nil && len(many) > 0 {
		return pick(many[0])
	}
	return ""
}

// Page is one server page as returned by a Gateway.
type Page struct {
	Items   []Document
	HasMore bool
}
