// Package ingestion runs every external signal — channel messages, RSS
// items, API poll results, social posts — through a uniform
// envelope → normalize → classify → dedup → append pipeline before it
// reaches memory, so the memory backend never has to special-case where a
// claim came from.
package ingestion

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/asteroniris/asteroniris/pkg/errs"
	"github.com/asteroniris/asteroniris/pkg/memory"
)

const (
	maxContentChars  = 8000
	maxAuthorChars   = 200
	maxTopicChars    = 120
	maxSourceRefChars = 512
)

// Envelope is the normalized shape every external signal takes before
// classification and dedup.
type Envelope struct {
	Content    string
	SourceKind memory.SourceOriginKind
	SourceRef  string
	Author     string
	Topic      string
	Lang       string
	RiskFlags  []string
	IngestedAt time.Time
}

// NewEnvelope wraps a raw payload, rejecting it if source_ref sanitizes to
// empty — an ingested signal with no stable reference can never be
// deduplicated, so it cannot be trusted into the pipeline at all.
func NewEnvelope(content string, sourceKind memory.SourceOriginKind, sourceRef, author, topic, lang string) (*Envelope, error) {
	ref := strings.TrimSpace(sourceRef)
	if ref == "" {
		return nil, errs.New(errs.KindData, "ingestion: source_ref sanitizes to empty")
	}
	return &Envelope{
		Content:    content,
		SourceKind: sourceKind,
		SourceRef:  ref,
		Author:     author,
		Topic:      topic,
		Lang:       lang,
		IngestedAt: time.Now().UTC(),
	}, nil
}

// Normalize unicode-normalizes content, strips external-content marker
// sequences so a signal can't forge a trust-frame boundary before the
// defense pipeline ever sees it, coerces the language tag, and clamps
// oversized fields. It rejects signals whose entity/source fields still
// exceed the configured maxima after clamping would lose information that
// changes meaning (source_ref, since clamping it would corrupt dedup
// identity) or whose language token isn't a plausible BCP-47-shaped tag.
func (e *Envelope) Normalize() error {
	if len(e.SourceRef) > maxSourceRefChars {
		return errs.New(errs.KindData, "ingestion: source_ref exceeds configured maximum")
	}

	e.Content = norm.NFC.String(e.Content)
	e.Content = strings.ReplaceAll(e.Content, "[[/external-content]]", "[[/external-content-escaped]]")
	if len(e.Content) > maxContentChars {
		e.Content = e.Content[:maxContentChars]
	}

	e.Author = clamp(e.Author, maxAuthorChars)
	e.Topic = clamp(e.Topic, maxTopicChars)

	e.Lang = coerceLangTag(e.Lang)
	if e.Lang != "" && !isPlausibleLangTag(e.Lang) {
		return errs.New(errs.KindData, "ingestion: invalid language tag")
	}
	return nil
}

func clamp(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func coerceLangTag(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}

// isPlausibleLangTag accepts bare BCP-47-shaped primary/region subtags
// (e.g. "en", "en-us", "zh-hant") without pulling in a full tag parser —
// the classify step only needs a coarse filter bound, not RFC 5646 validation.
func isPlausibleLangTag(lang string) bool {
	parts := strings.Split(lang, "-")
	if len(parts) == 0 || len(parts) > 3 {
		return false
	}
	for _, p := range parts {
		if len(p) < 2 || len(p) > 8 {
			return false
		}
		for _, r := range p {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				return false
			}
		}
	}
	return true
}
