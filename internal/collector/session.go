package collector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/common"
	"github.com/ternarybob/propago/internal/models"
)

// Session is one scrape browser session: an exec allocator plus a browser
// context pair. A session serves jobs sequentially and is torn down on
// failure or after the recycle threshold.
type Session struct {
	config        common.CollectorConfig
	logger        arbor.ILogger
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	converter     *md.Converter
}

// NewSession starts a browser session and verifies it responds before
// returning it.
func NewSession(config common.CollectorConfig, logger arbor.ILogger) (*Session, error) {
	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(config.UserAgent),
	)

	allocatorCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("browser session failed startup test: %w", err)
	}

	return &Session{
		config:        config,
		logger:        logger,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		converter:     md.NewConverter("", true, nil),
	}, nil
}

// Collect renders the target's feed and extracts its posts. An empty result
// means the feed had nothing new, not an error. Posts older than since are
// dropped at the source.
func (s *Session) Collect(ctx context.Context, target string, kind models.SourceKind, since *time.Time) ([]*models.SourcePost, error) {
	feed := feedURL(target, kind)

	html, err := s.render(ctx, feed)
	if err != nil {
		return nil, fmt.Errorf("failed to render feed %s: %w", feed, err)
	}

	posts, err := s.parseFeed(html, target)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", feed, err)
	}

	if since != nil {
		kept := posts[:0]
		for _, p := range posts {
			if p.PostedAt.IsZero() || !p.PostedAt.Before(*since) {
				kept = append(kept, p)
			}
		}
		posts = kept
	}

	s.logger.Debug().
		Str("target", target).
		Str("kind", string(kind)).
		Int("posts", len(posts)).
		Msg("Feed collected")
	return posts, nil
}

// EnrichPosts visits each post's permalink to replace a truncated feed
// caption with the full body. Best-effort: a failed enrichment keeps the
// feed-level text.
func (s *Session) EnrichPosts(ctx context.Context, posts []*models.SourcePost) {
	for _, post := range posts {
		if ctx.Err() != nil {
			return
		}
		if post.ExternalID == "" {
			continue
		}

		html, err := s.render(ctx, permalinkURL(post.ExternalID))
		if err != nil {
			s.logger.Debug().Err(err).Str("external_id", post.ExternalID).Msg("Post enrichment fetch failed")
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			continue
		}
		if caption := s.captionMarkdown(doc.Selection); caption != "" && len(caption) > len(post.Text) {
			post.Text = caption
		}
	}
}

// Close tears down the browser and allocator contexts.
func (s *Session) Close() {
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

// render navigates a fresh tab to the URL, waits for JavaScript to settle and
// returns the rendered document. The tab is cancelled when the job context
// ends so a hung navigation cannot outlive its job.
func (s *Session) render(ctx context.Context, url string) (string, error) {
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	defer tabCancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			tabCancel()
		case <-done:
		}
	}()

	headers := network.Headers{}
	if s.config.AcceptLanguage != "" {
		headers["Accept-Language"] = s.config.AcceptLanguage
	}

	var html string
	err := chromedp.Run(tabCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
		chromedp.Navigate(url),
		chromedp.Sleep(s.config.RenderWaitTime),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return html, nil
}

// parseFeed extracts posts from a rendered feed document.
func (s *Session) parseFeed(html, target string) ([]*models.SourcePost, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	followerCount := parseCount(doc.Find("header [data-followers], header a[href$='/followers/'] span").First().Text())

	var posts []*models.SourcePost
	doc.Find("article").Each(func(_ int, sel *goquery.Selection) {
		post := s.parsePost(sel, target)
		if post == nil {
			return
		}
		post.FollowerCount = followerCount
		posts = append(posts, post)
	})
	return posts, nil
}

func (s *Session) parsePost(sel *goquery.Selection, target string) *models.SourcePost {
	permalink := sel.Find(`a[href*="/p/"], a[href*="/reel/"]`).First().AttrOr("href", "")
	externalID := shortcodeFromPath(permalink)
	if externalID == "" {
		return nil
	}

	post := &models.SourcePost{
		ID:          common.NewPostID(),
		ExternalID:  externalID,
		Author:      strings.TrimSpace(sel.Find("header a").First().Text()),
		Text:        s.captionMarkdown(sel),
		CollectedAt: time.Now(),
	}
	if post.Author == "" {
		post.Author = target
	}

	if datetime := sel.Find("time").First().AttrOr("datetime", ""); datetime != "" {
		if at, err := time.Parse(time.RFC3339, datetime); err == nil {
			post.PostedAt = at
		}
	}

	post.LikeCount = countNear(sel, "like")
	post.CommentCount = countNear(sel, "comment")
	post.ShareCount = countNear(sel, "share")

	sel.Find("video[src]").Each(func(_ int, v *goquery.Selection) {
		post.Media = append(post.Media, models.MediaRef{
			URL:          v.AttrOr("src", ""),
			DeclaredType: models.MediaTypeVideo,
		})
	})
	sel.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src := img.AttrOr("src", "")
		// Profile avatars render as small images; skip anything tagged as one
		if src == "" || strings.Contains(img.AttrOr("alt", ""), "profile picture") {
			return
		}
		post.Media = append(post.Media, models.MediaRef{
			URL:          src,
			DeclaredType: models.MediaTypeImage,
		})
	})

	return post
}

// captionMarkdown converts the post caption node to normalized markdown.
func (s *Session) captionMarkdown(sel *goquery.Selection) string {
	caption := sel.Find("h1, [data-caption], span[dir='auto']").First()
	if caption.Length() == 0 {
		return ""
	}
	rawHTML, err := caption.Html()
	if err != nil {
		return strings.TrimSpace(caption.Text())
	}
	markdown, err := s.converter.ConvertString(rawHTML)
	if err != nil {
		return strings.TrimSpace(caption.Text())
	}
	return strings.TrimSpace(markdown)
}

// countNear finds the engagement count labelled with the given word, e.g.
// "1,234 likes" or an aria-label carrying the same text.
func countNear(sel *goquery.Selection, word string) int {
	count := 0
	sel.Find("span, button, a").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		text := el.AttrOr("aria-label", "")
		if text == "" {
			text = el.Text()
		}
		lower := strings.ToLower(text)
		if !strings.Contains(lower, word) {
			return true
		}
		if n := parseCount(strings.Fields(lower)[0]); n > 0 {
			count = n
			return false
		}
		return true
	})
	return count
}

// parseCount parses "1,234", "12.5K" and "1.2M" style count strings. Returns
// 0 for anything unparseable.
func parseCount(raw string) int {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if raw == "" {
		return 0
	}

	multiplier := 1.0
	switch {
	case strings.HasSuffix(raw, "K"), strings.HasSuffix(raw, "k"):
		multiplier = 1_000
		raw = raw[:len(raw)-1]
	case strings.HasSuffix(raw, "M"), strings.HasSuffix(raw, "m"):
		multiplier = 1_000_000
		raw = raw[:len(raw)-1]
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return int(value * multiplier)
}

// shortcodeFromPath extracts the platform-native post ID from a permalink
// like "/p/Cxyz123/" or "/reel/Cxyz123/".
func shortcodeFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, part := range parts {
		if (part == "p" || part == "reel") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func feedURL(target string, kind models.SourceKind) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	if kind == models.SourceKindTopic {
		return fmt.Sprintf("https://www.instagram.com/explore/tags/%s/", strings.TrimPrefix(target, "#"))
	}
	return fmt.Sprintf("https://www.instagram.com/%s/", strings.TrimPrefix(target, "@"))
}

func permalinkURL(externalID string) string {
	return fmt.Sprintf("https://www.instagram.com/p/%s/", externalID)
}
