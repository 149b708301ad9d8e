package publisher

import (
	"github.com/ternarybob/propago/internal/models"
)

// SelectMedia picks the media attachment for an article's publish payload.
// An operator-selected URL always wins; otherwise the first playable video
// across the source posts, then the first image. Returns ok=false when the
// article has nothing to attach.
func SelectMedia(article *models.Article, posts []*models.SourcePost) (url string, isVideo bool, ok bool) {
	if article.SelectedMediaURL != "" {
		ref := models.MediaRef{URL: article.SelectedMediaURL}
		return article.SelectedMediaURL, ref.IsVideo(), true
	}

	var firstImage string
	for _, post := range posts {
		for _, ref := range post.Media {
			if ref.URL == "" {
				continue
			}
			if ref.IsVideo() {
				return ref.URL, true, true
			}
			if firstImage == "" {
				firstImage = ref.URL
			}
		}
	}
	if firstImage != "" {
		return firstImage, false, true
	}
	return "", false, false
}
