package collector

import (
	"testing"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/models"
)

func TestParseCount(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"1,234", 1234},
		{"12.5K", 12500},
		{"1.2M", 1200000},
		{"42", 42},
		{"", 0},
		{"likes", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseCount(tt.raw), "parseCount(%q)", tt.raw)
	}
}

func TestShortcodeFromPath(t *testing.T) {
	assert.Equal(t, "Cxyz123", shortcodeFromPath("/p/Cxyz123/"))
	assert.Equal(t, "Rabc456", shortcodeFromPath("/reel/Rabc456/"))
	assert.Equal(t, "", shortcodeFromPath("/someuser/"))
	assert.Equal(t, "", shortcodeFromPath(""))
}

func TestFeedURL(t *testing.T) {
	assert.Equal(t, "https://www.instagram.com/someuser/", feedURL("@someuser", models.SourceKindAccount))
	assert.Equal(t, "https://www.instagram.com/explore/tags/golang/", feedURL("#golang", models.SourceKindTopic))
	assert.Equal(t, "https://example.com/feed", feedURL("https://example.com/feed", models.SourceKindAccount))
}

func TestParseFeed(t *testing.T) {
	html := `
	<html><body>
	<header><a href="/followers/"><span>12.5K</span></a></header>
	<article>
		<header><a href="/someuser/">someuser</a></header>
		<a href="/p/Cxyz123/">permalink</a>
		<time datetime="2026-08-29T10:00:00Z">yesterday</time>
		<span dir="auto">Big <b>news</b> today</span>
		<button aria-label="1,234 likes">likes</button>
		<img src="https://cdn.example.com/photo.jpg" alt="shared photo"/>
	</article>
	<article>
		<div>no permalink, skipped</div>
	</article>
	</body></html>`

	s := &Session{converter: md.NewConverter("", true, nil), logger: arbor.NewLogger()}
	posts, err := s.parseFeed(html, "someuser")
	require.NoError(t, err)
	require.Len(t, posts, 1, "articles without a permalink are skipped")

	p := posts[0]
	assert.Equal(t, "Cxyz123", p.ExternalID)
	assert.Equal(t, "someuser", p.Author)
	assert.Equal(t, 1234, p.LikeCount)
	assert.Equal(t, 12500, p.FollowerCount)
	assert.Contains(t, p.Text, "**news**", "caption is markdown-normalized")
	require.Len(t, p.Media, 1)
	assert.Equal(t, models.MediaTypeImage, p.Media[0].DeclaredType)
	assert.Equal(t, "2026-08-29T10:00:00Z", p.PostedAt.UTC().Format("2006-01-02T15:04:05Z"))
}

func TestParseFeed_SkipsProfilePictures(t *testing.T) {
	html := `
	<html><body>
	<article>
		<a href="/p/Cabc/">x</a>
		<img src="https://cdn.example.com/avatar.jpg" alt="someuser's profile picture"/>
		<img src="https://cdn.example.com/content.jpg" alt="photo"/>
	</article>
	</body></html>`

	s := &Session{converter: md.NewConverter("", true, nil), logger: arbor.NewLogger()}
	posts, err := s.parseFeed(html, "someuser")
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Len(t, posts[0].Media, 1)
	assert.Contains(t, posts[0].Media[0].URL, "content.jpg")
}
