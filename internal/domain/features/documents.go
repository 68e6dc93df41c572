package features

import "time"

// Revision is the upstream document describing one revision.
type Revision struct {
	RevID        int64
	ParentID     int64
	PageID       int64
	PageTitle    string
	Namespace    int
	User         string
	UserID       int64
	Anon         bool
	Minor        bool
	Timestamp    time.Time
	Comment      string
	Size         int
	ContentModel string
	Content      string
	TextHidden   bool
}

// User is the upstream document describing an editor account.
type User struct {
	Name         string
	EditCount    int
	Registration time.Time
	Groups       []string
	Missing      bool
}

// HasGroup reports whether the user belongs to group.
func (u User) HasGroup(group string) bool {
	for _, g := range u.Groups {
		if g == group {
			return true
		}
	}
	return false
}
