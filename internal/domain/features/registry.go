package features

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
	"unicode"
)

// Feature names understood by Extract.
const (
	RevisionBytes        = "revision.bytes"
	RevisionIsMinor      = "revision.is_minor"
	PageIsArticle        = "revision.page.is_article"
	CommentChars         = "revision.comment.chars"
	CommentHasRevert     = "revision.comment.has_revert"
	ContentWords         = "revision.content.words"
	ContentWikilinks     = "revision.content.wikilinks"
	ContentExternalLinks = "revision.content.external_links"
	ContentTemplates     = "revision.content.templates"
	ContentRefs          = "revision.content.refs"
	ContentHeadings      = "revision.content.headings"
	ContentImages        = "revision.content.images"
	ContentCategories    = "revision.content.categories"
	ParentBytes          = "revision.parent.bytes"
	DiffBytesDelta       = "revision.diff.bytes_delta"
	DiffWikilinksDelta   = "revision.diff.wikilinks_delta"
	DiffRefsDelta        = "revision.diff.refs_delta"
	DiffBadwordsAdded    = "revision.diff.badwords_added"
	DiffInformalsAdded   = "revision.diff.informals_added"
	DiffUppercaseRatio   = "revision.diff.uppercase_ratio"
	UserIsAnon           = "revision.user.is_anon"
	UserIsBot            = "revision.user.is_bot"
	UserIsAdmin          = "revision.user.is_admin"
	UserLogEditCount     = "revision.user.log_edit_count"
	UserLogAgeDays       = "revision.user.log_age_days"
)

const wikitext = "wikitext"

var revertComment = regexp.MustCompile(`(?i)\b(revert(ed|ing)?|rv|rvv|undid|undo)\b`)

var badwords = map[string]struct{}{
	"stupid": {}, "idiot": {}, "dumb": {}, "sucks": {}, "crap": {},
	"poop": {}, "loser": {}, "moron": {}, "fart": {}, "butt": {},
	"ugly": {}, "hate": {},
}

var informals = map[string]struct{}{
	"lol": {}, "haha": {}, "hahaha": {}, "omg": {}, "gonna": {}, "wanna": {},
	"dude": {}, "yo": {}, "ur": {}, "hey": {}, "hi": {}, "cool": {},
}

type computeFunc func(s *source) (float64, error)

var registry = map[string]computeFunc{
	RevisionBytes: func(s *source) (float64, error) {
		r, err := s.revision()
		return float64(r.Size), err
	},
	RevisionIsMinor: func(s *source) (float64, error) {
		r, err := s.revision()
		return boolf(r.Minor), err
	},
	PageIsArticle: func(s *source) (float64, error) {
		r, err := s.revision()
		return boolf(r.Namespace == 0), err
	},
	CommentChars: func(s *source) (float64, error) {
		r, err := s.revision()
		return float64(len([]rune(r.Comment))), err
	},
	CommentHasRevert: func(s *source) (float64, error) {
		r, err := s.revision()
		return boolf(revertComment.MatchString(r.Comment)), err
	},
	ContentWords:         textCount(func(t string) int { return len(tokens(t)) }),
	ContentWikilinks:     textCount(countWikilinks),
	ContentExternalLinks: textCount(countExternalLinks),
	ContentTemplates:     textCount(func(t string) int { return strings.Count(t, "{{") }),
	ContentRefs:          textCount(countRefs),
	ContentHeadings:      textCount(countHeadings),
	ContentImages: textCount(func(t string) int {
		l := strings.ToLower(t)
		return strings.Count(l, "[[file:") + strings.Count(l, "[[image:")
	}),
	ContentCategories: textCount(func(t string) int {
		return strings.Count(strings.ToLower(t), "[[category:")
	}),
	ParentBytes: func(s *source) (float64, error) {
		p, ok, err := s.parent()
		if err != nil || !ok {
			return 0, err
		}
		return float64(p.Size), nil
	},
	DiffBytesDelta: func(s *source) (float64, error) {
		r, err := s.revision()
		if err != nil {
			return 0, err
		}
		p, _, err := s.parent()
		if err != nil {
			return 0, err
		}
		return float64(r.Size - p.Size), nil
	},
	DiffWikilinksDelta: diffCount(countWikilinks, false),
	DiffRefsDelta:      diffCount(countRefs, false),
	DiffBadwordsAdded:  diffCount(wordCounter(badwords), true),
	DiffInformalsAdded: diffCount(wordCounter(informals), true),
	DiffUppercaseRatio: func(s *source) (float64, error) {
		cur, err := s.text()
		if err != nil {
			return 0, err
		}
		prev, err := s.parentText()
		if err != nil {
			return 0, err
		}
		return uppercaseRatio(addedText(prev, cur)), nil
	},
	UserIsAnon: func(s *source) (float64, error) {
		r, err := s.revision()
		return boolf(r.Anon), err
	},
	UserIsBot: func(s *source) (float64, error) {
		u, ok, err := s.user()
		return boolf(ok && u.HasGroup("bot")), err
	},
	UserIsAdmin: func(s *source) (float64, error) {
		u, ok, err := s.user()
		return boolf(ok && u.HasGroup("sysop")), err
	},
	UserLogEditCount: func(s *source) (float64, error) {
		u, ok, err := s.user()
		if err != nil || !ok {
			return 0, err
		}
		return math.Log1p(float64(u.EditCount)), nil
	},
	UserLogAgeDays: func(s *source) (float64, error) {
		u, ok, err := s.user()
		if err != nil || !ok || u.Registration.IsZero() {
			return 0, err
		}
		r, _ := s.revision()
		days := r.Timestamp.Sub(u.Registration).Hours() / 24
		return math.Log1p(math.Max(0, days)), nil
	},
}

// Names returns every known feature name, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Known reports whether name is a known feature.
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// NeedsExtraInfo reports whether any of names reads the parent revision or
// the editor's user document.
func NeedsExtraInfo(names []string) bool {
	for _, n := range names {
		if strings.HasPrefix(n, "revision.parent.") ||
			strings.HasPrefix(n, "revision.diff.") ||
			(strings.HasPrefix(n, "revision.user.") && n != UserIsAnon) {
			return true
		}
	}
	return false
}

// source resolves the documents a feature reads from the cache.
type source struct {
	revID int64
	cache *Cache
}

func (s *source) revision() (Revision, error) {
	r, ok := s.cache.Revision(s.revID)
	if !ok {
		return Revision{}, fmt.Errorf("%w: revision %d not fetched", ErrMissingResource, s.revID)
	}
	return r, nil
}

func (s *source) text() (string, error) {
	r, err := s.revision()
	if err != nil {
		return "", err
	}
	return revisionText(r)
}

func revisionText(r Revision) (string, error) {
	if r.TextHidden {
		return "", fmt.Errorf("%w: text of revision %d is deleted or suppressed", ErrMissingResource, r.RevID)
	}
	if r.ContentModel != "" && r.ContentModel != wikitext {
		return "", fmt.Errorf("%w: revision %d has content model %q", ErrUnexpectedContent, r.RevID, r.ContentModel)
	}
	return r.Content, nil
}

// parent returns false when the revision created its page.
func (s *source) parent() (Revision, bool, error) {
	r, err := s.revision()
	if err != nil || r.ParentID == 0 {
		return Revision{}, false, err
	}
	p, ok := s.cache.Revision(r.ParentID)
	if !ok {
		return Revision{}, false, fmt.Errorf("%w: parent revision %d not fetched", ErrMissingResource, r.ParentID)
	}
	return p, true, nil
}

func (s *source) parentText() (string, error) {
	p, ok, err := s.parent()
	if err != nil || !ok {
		return "", err
	}
	return revisionText(p)
}

// user returns false for anonymous edits.
func (s *source) user() (User, bool, error) {
	r, err := s.revision()
	if err != nil || r.Anon || r.User == "" {
		return User{}, false, err
	}
	u, ok := s.cache.User(r.User)
	if !ok {
		return User{}, false, fmt.Errorf("%w: user %q not fetched", ErrMissingResource, r.User)
	}
	if u.Missing {
		return User{}, false, nil
	}
	return u, true, nil
}

func textCount(fn func(string) int) computeFunc {
	return func(s *source) (float64, error) {
		t, err := s.text()
		if err != nil {
			return 0, err
		}
		return float64(fn(t)), nil
	}
}

// diffCount compares fn over the revision and its parent. With addedOnly
// the difference is floored at zero.
func diffCount(fn func(string) int, addedOnly bool) computeFunc {
	return func(s *source) (float64, error) {
		cur, err := s.text()
		if err != nil {
			return 0, err
		}
		prev, err := s.parentText()
		if err != nil {
			return 0, err
		}
		d := fn(cur) - fn(prev)
		if addedOnly && d < 0 {
			d = 0
		}
		return float64(d), nil
	}
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func tokens(t string) []string {
	return strings.FieldsFunc(strings.ToLower(t), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func wordCounter(set map[string]struct{}) func(string) int {
	return func(t string) int {
		n := 0
		for _, tok := range tokens(t) {
			if _, ok := set[tok]; ok {
				n++
			}
		}
		return n
	}
}

func countWikilinks(t string) int { return strings.Count(t, "[[") }

func countRefs(t string) int { return strings.Count(strings.ToLower(t), "<ref") }

func countExternalLinks(t string) int {
	return strings.Count(t, "http://") + strings.Count(t, "https://")
}

func countHeadings(t string) int {
	n := 0
	for _, line := range strings.Split(t, "\n") {
		line = strings.TrimSpace(line)
		if len(line) > 2 && strings.HasPrefix(line, "==") && strings.HasSuffix(line, "==") {
			n++
		}
	}
	return n
}

// addedText returns the lines of cur that do not appear in prev.
func addedText(prev, cur string) string {
	seen := make(map[string]int)
	for _, l := range strings.Split(prev, "\n") {
		seen[l]++
	}
	var b strings.Builder
	for _, l := range strings.Split(cur, "\n") {
		if seen[l] > 0 {
			seen[l]--
			continue
		}
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

func uppercaseRatio(t string) float64 {
	var upper, letters int
	for _, r := range t {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}
