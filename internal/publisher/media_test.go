package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/propago/internal/models"
)

func TestSelectMedia_OperatorSelectionWins(t *testing.T) {
	article := &models.Article{SelectedMediaURL: "https://cdn.example.com/picked.jpg"}
	posts := []*models.SourcePost{{Media: []models.MediaRef{{URL: "https://cdn.example.com/other.mp4", DeclaredType: models.MediaTypeVideo}}}}

	url, isVideo, ok := SelectMedia(article, posts)
	assert.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/picked.jpg", url)
	assert.False(t, isVideo)
}

func TestSelectMedia_OperatorVideoMarkerDetected(t *testing.T) {
	article := &models.Article{SelectedMediaURL: "https://cdn.example.com/reel/abc"}

	_, isVideo, ok := SelectMedia(article, nil)
	assert.True(t, ok)
	assert.True(t, isVideo, "URL video markers override the absence of a declared type")
}

func TestSelectMedia_VideoPreferredOverImage(t *testing.T) {
	article := &models.Article{}
	posts := []*models.SourcePost{
		{Media: []models.MediaRef{{URL: "https://cdn.example.com/a.jpg", DeclaredType: models.MediaTypeImage}}},
		{Media: []models.MediaRef{{URL: "https://cdn.example.com/b.mp4", DeclaredType: models.MediaTypeImage}}}, // Marker wins over declared type
	}

	url, isVideo, ok := SelectMedia(article, posts)
	assert.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/b.mp4", url)
	assert.True(t, isVideo)
}

func TestSelectMedia_FirstImageFallback(t *testing.T) {
	article := &models.Article{}
	posts := []*models.SourcePost{
		{Media: []models.MediaRef{{URL: "https://cdn.example.com/first.jpg", DeclaredType: models.MediaTypeImage}}},
		{Media: []models.MediaRef{{URL: "https://cdn.example.com/second.jpg", DeclaredType: models.MediaTypeImage}}},
	}

	url, isVideo, ok := SelectMedia(article, posts)
	assert.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/first.jpg", url)
	assert.False(t, isVideo)
}

func TestSelectMedia_NothingToAttach(t *testing.T) {
	_, _, ok := SelectMedia(&models.Article{}, []*models.SourcePost{{}})
	assert.False(t, ok)
}
