package store

import "time"

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// Entry is one journal record. Tags are resolved at read time and never
// stored on the entries row.
type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Tags      []Tag     `json:"tags"`
}

// EntryPatch is a partial update; nil fields are left unchanged.
type EntryPatch struct {
	Title   *string
	Content *string
}

func (p EntryPatch) Empty() bool {
	return p.Title == nil && p.Content == nil
}

type Tag struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func TagNames(tags []Tag) []string {
	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		names = append(names, tag.Name)
	}
	return names
}
