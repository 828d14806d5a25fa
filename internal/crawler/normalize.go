package crawler

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Normalizer converts scraped RawQuestion payloads into canonical records.
// One malformed record never aborts the batch: callers skip and count it.
type Normalizer struct{}

// NewNormalizer builds a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize produces the canonical Question plus its normalized tag names, or
// an error wrapping ErrMalformedRecord.
func (n *Normalizer) Normalize(raw RawQuestion) (Question, []string, error) {
	url := strings.TrimSpace(raw.URL)
	if url == "" {
		return Question{}, nil, fmt.Errorf("%w: missing url", ErrMalformedRecord)
	}
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		return Question{}, nil, fmt.Errorf("%w: missing title for %s", ErrMalformedRecord, url)
	}
	lang, err := ParseLanguage(string(raw.Language))
	if err != nil {
		return Question{}, nil, err
	}
	questionID := QuestionIDFromURL(url)
	if questionID == "" {
		return Question{}, nil, fmt.Errorf("%w: no question id in url %s", ErrMalformedRecord, url)
	}

	viewCount, err := parseCount("view_count", raw.ViewCount, false)
	if err != nil {
		return Question{}, nil, err
	}
	// Votes can legitimately go negative on downvoted questions.
	voteCount, err := parseCount("vote_count", raw.VoteCount, true)
	if err != nil {
		return Question{}, nil, err
	}
	answerCount, err := parseCount("answer_count", raw.AnswerCount, false)
	if err != nil {
		return Question{}, nil, err
	}

	q := Question{
		QuestionID:        questionID,
		Title:             title,
		Description:       strings.TrimSpace(raw.Description),
		Language:          lang,
		URL:               url,
		ViewCount:         viewCount,
		VoteCount:         voteCount,
		AnswerCount:       answerCount,
		HasAcceptedAnswer: raw.HasAcceptedAnswer,
		PostedAt:          parseTimestamp(raw.Timestamp, raw.CrawledAt),
	}
	return q, NormalizeTags(raw.Tags), nil
}

// QuestionIDFromURL extracts the natural key: the trailing path segment of the
// question URL.
func QuestionIDFromURL(rawURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(rawURL), "/")
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return ""
}

// NormalizeTag lowercases and collapses whitespace so equivalent tags never
// duplicate.
func NormalizeTag(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// NormalizeTags normalizes and de-duplicates a tag list, preserving order.
func NormalizeTags(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		norm := NormalizeTag(name)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

// parseCount turns listing counter text into an int. Absent values default to
// zero; "1,234" and abbreviated "1.2k"/"3m" forms are accepted. Negative
// values pass only where the field allows them.
func parseCount(field, raw string, allowNegative bool) (int, error) {
	s := strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if s == "" {
		return 0, nil
	}
	multiplier := 1.0
	switch {
	case strings.HasSuffix(s, "k"), strings.HasSuffix(s, "K"):
		multiplier = 1000
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "m"), strings.HasSuffix(s, "M"):
		multiplier = 1000000
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || (v < 0 && !allowNegative) {
		return 0, fmt.Errorf("%w: unparseable %s %q", ErrMalformedRecord, field, raw)
	}
	return int(math.Round(v * multiplier)), nil
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
}

// parseTimestamp maps the listing's post time to a nullable timestamp. The
// source renders either absolute dates or relative phrases ("3 hours ago");
// anything unrecognized maps to nil, never to a fabricated time.
func parseTimestamp(raw string, crawledAt time.Time) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	if t, ok := parseRelative(s, crawledAt); ok {
		return &t
	}
	return nil
}

func parseRelative(s string, anchor time.Time) (time.Time, bool) {
	if anchor.IsZero() {
		return time.Time{}, false
	}
	fields := strings.Fields(strings.ToLower(strings.TrimPrefix(strings.ToLower(s), "asked")))
	if len(fields) < 3 || fields[len(fields)-1] != "ago" {
		return time.Time{}, false
	}
	amount, err := strconv.Atoi(fields[0])
	if err != nil {
		if fields[0] == "a" || fields[0] == "an" {
			amount = 1
		} else {
			return time.Time{}, false
		}
	}
	var unit time.Duration
	switch strings.TrimSuffix(fields[1], "s") {
	case "minute":
		unit = time.Minute
	case "hour":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	case "week":
		unit = 7 * 24 * time.Hour
	case "month":
		unit = 30 * 24 * time.Hour
	case "year":
		unit = 365 * 24 * time.Hour
	default:
		return time.Time{}, false
	}
	return anchor.Add(-time.Duration(amount) * unit).UTC(), true
}
