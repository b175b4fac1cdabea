package services

import "hn-digest/models"

// Chunk teilt Kommentare in Gruppen der Größe size; die letzte Gruppe darf kleiner sein.
// Ohne Kommentare wird genau eine leere Gruppe geliefert, damit ein Map-Job läuft.
func Chunk(comments []models.CommentDTO, size int) [][]models.CommentDTO {
	if size <= 0 {
		size = 50
	}
	if len(comments) == 0 {
		return [][]models.CommentDTO{{}}
	}
	groups := make([][]models.CommentDTO, 0, (len(comments)+size-1)/size)
	for start := 0; start < len(comments); start += size {
		end := min(start+size, len(comments))
		groups = append(groups, comments[start:end:end])
	}
	return groups
}
