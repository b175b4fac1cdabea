package models

import "time"

// RawItem ist ein Eintrag der Hacker-News-API, unverändert wie geliefert.
type RawItem struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	By          string  `json:"by,omitempty"`
	Time        int64   `json:"time"`
	Text        string  `json:"text,omitempty"`
	Title       string  `json:"title,omitempty"`
	URL         string  `json:"url,omitempty"`
	Score       int     `json:"score,omitempty"`
	Kids        []int64 `json:"kids,omitempty"`
	Parent      int64   `json:"parent,omitempty"`
	Descendants int     `json:"descendants,omitempty"`
	Deleted     bool    `json:"deleted,omitempty"`
	Dead        bool    `json:"dead,omitempty"`
}

// Gone meldet gelöschte oder tote Einträge.
func (i RawItem) Gone() bool {
	return i.Deleted || i.Dead
}

// CommentDTO ist ein bereinigter Kommentar. ParentID ist nil für Kommentare direkt unter der Story.
type CommentDTO struct {
	ID       string  `json:"id"`
	Author   string  `json:"author"`
	Text     string  `json:"text"`
	ParentID *string `json:"parent_id,omitempty"`
	Score    int     `json:"score"`
}

// ScrapedStory bündelt Story-Metadaten, Artikeltext und den flachen Kommentarbaum.
type ScrapedStory struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	URL        string       `json:"url"`
	Points     int          `json:"points"`
	Author     string       `json:"author"`
	Timestamp  time.Time    `json:"timestamp"`
	RawContent string       `json:"raw_content"`
	Comments   []CommentDTO `json:"comments,omitempty"`
}

// Header liefert die Story ohne Kommentare, wie sie der Reduce-Job erhält.
func (s ScrapedStory) Header() ScrapedStory {
	s.Comments = nil
	return s
}
