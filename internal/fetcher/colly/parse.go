package collyfetcher

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/repost-crawler/internal/crawler"
)

// CSS hooks for the listing markup. The site hashes its class suffixes, so
// the selectors match on the stable prefix.
const (
	selQuestionCard = `div[class*="QuestionCard_card"]`
	selAcceptedTag  = `span[class*="CustomTag_accepted"]`
	selDate         = `span[class*="QuestionCard_date"]`
	selTagContainer = `div[class*="QuestionCard_tagContainer"]`
	selTag          = `span.ant-tag`
	selVoteCount    = `span[class*="QuestionCard_voteCount"]`
	selViewCount    = `span[class*="QuestionCard_viewCount"]`
	selAnswerCount  = `span[class*="QuestionCard_answerCount"]`
)

// ParseQuestions extracts the raw question cards from a listing page. Cards
// without a link are dropped here; everything else is left to the normalizer
// so malformed records are counted, not silently lost.
func ParseQuestions(
	body []byte,
	lang crawler.Language,
	baseURL string,
	crawledAt time.Time,
) ([]crawler.RawQuestion, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	var raws []crawler.RawQuestion
	doc.Find(selQuestionCard).Each(func(_ int, card *goquery.Selection) {
		link := card.Find("a").First()
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		raw := crawler.RawQuestion{
			URL:               absoluteURL(baseURL, href),
			Title:             strings.TrimSpace(link.Text()),
			HasAcceptedAnswer: card.Find(selAcceptedTag).Length() > 0,
			Timestamp:         strings.TrimSpace(card.Find(selDate).First().Text()),
			Language:          lang,
			VoteCount:         strings.TrimSpace(card.Find(selVoteCount).First().Text()),
			ViewCount:         strings.TrimSpace(card.Find(selViewCount).First().Text()),
			AnswerCount:       strings.TrimSpace(card.Find(selAnswerCount).First().Text()),
			CrawledAt:         crawledAt,
		}
		card.Find(selTagContainer).First().Find(selTag).Each(func(_ int, tag *goquery.Selection) {
			if name := strings.TrimSpace(tag.Text()); name != "" {
				raw.Tags = append(raw.Tags, name)
			}
		})
		raws = append(raws, raw)
	})
	return raws, nil
}

func absoluteURL(baseURL, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(href, "/")
}
