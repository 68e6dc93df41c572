package mwapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/okian/revscore/internal/domain/features"
)

// Action API response shapes, formatversion=2.

type apiError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

type queryResponse struct {
	Error *apiError `json:"error"`
	Query *struct {
		BadRevIDs map[string]json.RawMessage `json:"badrevids"`
		Pages     []page                     `json:"pages"`
		Users     []user                     `json:"users"`
	} `json:"query"`
}

type page struct {
	PageID    int64      `json:"pageid"`
	Namespace int        `json:"ns"`
	Title     string     `json:"title"`
	Missing   bool       `json:"missing"`
	Revisions []revision `json:"revisions"`
}

type revision struct {
	RevID      int64  `json:"revid"`
	ParentID   int64  `json:"parentid"`
	Minor      bool   `json:"minor"`
	User       string `json:"user"`
	UserID     int64  `json:"userid"`
	Anon       bool   `json:"anon"`
	Timestamp  string `json:"timestamp"`
	Size       int    `json:"size"`
	Comment    string `json:"comment"`
	TextHidden bool   `json:"texthidden"`
	Slots      map[string]struct {
		ContentModel string `json:"contentmodel"`
		Content      string `json:"content"`
		TextHidden   bool   `json:"texthidden"`
	} `json:"slots"`
}

type user struct {
	Name         string   `json:"name"`
	Missing      bool     `json:"missing"`
	Invalid      bool     `json:"invalid"`
	EditCount    int      `json:"editcount"`
	Registration string   `json:"registration"`
	Groups       []string `json:"groups"`
}

func decode(body []byte) (*queryResponse, error) {
	var r queryResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	if r.Error != nil {
		return nil, fmt.Errorf("%w: api error %s: %s", ErrMalformedDocument, r.Error.Code, r.Error.Info)
	}
	if r.Query == nil {
		return nil, fmt.Errorf("%w: no query object", ErrMalformedDocument)
	}
	return &r, nil
}

// revisionDocument extracts revID from a prop=revisions response.
func revisionDocument(r *queryResponse, revID int64) (features.Revision, error) {
	if _, bad := r.Query.BadRevIDs[strconv.FormatInt(revID, 10)]; bad {
		return features.Revision{}, fmt.Errorf("%w: %d", ErrBadRevision, revID)
	}
	for _, p := range r.Query.Pages {
		for _, rv := range p.Revisions {
			if rv.RevID != revID {
				continue
			}
			return toRevision(p, rv)
		}
	}
	return features.Revision{}, fmt.Errorf("%w: revision %d not in response", ErrMalformedDocument, revID)
}

func toRevision(p page, rv revision) (features.Revision, error) {
	ts, err := parseTime(rv.Timestamp)
	if err != nil {
		return features.Revision{}, fmt.Errorf("%w: revision %d timestamp: %w", ErrMalformedDocument, rv.RevID, err)
	}
	main, ok := rv.Slots["main"]
	if !ok && !rv.TextHidden {
		return features.Revision{}, fmt.Errorf("%w: revision %d has no main slot", ErrMalformedDocument, rv.RevID)
	}
	return features.Revision{
		RevID:        rv.RevID,
		ParentID:     rv.ParentID,
		PageID:       p.PageID,
		PageTitle:    p.Title,
		Namespace:    p.Namespace,
		User:         rv.User,
		UserID:       rv.UserID,
		Anon:         rv.Anon || (rv.UserID == 0 && rv.User != ""),
		Minor:        rv.Minor,
		Timestamp:    ts,
		Comment:      rv.Comment,
		Size:         rv.Size,
		ContentModel: main.ContentModel,
		Content:      main.Content,
		TextHidden:   rv.TextHidden || main.TextHidden,
	}, nil
}

// userDocument extracts name from a list=users response. Unknown accounts
// are returned with Missing set.
func userDocument(r *queryResponse, name string) (features.User, error) {
	for _, u := range r.Query.Users {
		if u.Name != name {
			continue
		}
		if u.Missing || u.Invalid {
			return features.User{Name: name, Missing: true}, nil
		}
		reg, err := parseTime(u.Registration)
		if err != nil {
			return features.User{}, fmt.Errorf("%w: user %q registration: %w", ErrMalformedDocument, name, err)
		}
		return features.User{
			Name:         u.Name,
			EditCount:    u.EditCount,
			Registration: reg,
			Groups:       u.Groups,
		}, nil
	}
	return features.User{}, fmt.Errorf("%w: user %q not in response", ErrMalformedDocument, name)
}

// parseTime accepts empty values, which old accounts have for
// registration.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
