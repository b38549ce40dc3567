// Package classroom holds the domain records shared by the portal client and server.
package classroom

import (
	"sort"
	"strings"
	"time"
)

// DefaultClass is shown to administrators that have not picked a class yet.
const DefaultClass = "10-M"

// LastUpdateLayout renders the human-readable lastUpdate label of homework records.
const LastUpdateLayout = "02.01.2006, 15:04:05"

// Role identifies what a key holder may do inside a class.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleSubadmin Role = "subadmin"
	RoleTester   Role = "tester"
	RoleElder    Role = "elder"
	RoleStudent  Role = "student"
)

var roleDisplayNames = map[Role]string{
	RoleAdmin:    "Администратор",
	RoleSubadmin: "Суб-админ",
	RoleTester:   "Тестировщик",
	RoleElder:    "Староста",
	RoleStudent:  "Ученик",
}

// ParseRole normalizes textual input into a known role.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	_, ok := roleDisplayNames[role]
	return role, ok
}

// DisplayName returns the label shown next to the role; unknown roles echo themselves.
func (r Role) DisplayName() string {
	if name, ok := roleDisplayNames[r]; ok {
		return name
	}
	return string(r)
}

// Roles lists every known role in a stable order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleSubadmin, RoleTester, RoleElder, RoleStudent}
}

// HomeworkRecord is the class document stored at classes/{class}.
type HomeworkRecord struct {
	Homework   string `json:"homework"`
	LastUpdate string `json:"lastUpdate"`
	EditedBy   string `json:"_editedBy,omitempty"`
	Editor     string `json:"_editor,omitempty"`
	Timestamp  int64  `json:"_timestamp,omitempty"`
}

// FormatLastUpdate renders the lastUpdate label for the given instant.
func FormatLastUpdate(at time.Time) string {
	return at.Format(LastUpdateLayout)
}

// ImageEntry is one gallery item stored at classes/{class}/gallery/{id}.
type ImageEntry struct {
	URL          string `json:"url"`
	FileName     string `json:"fileName"`
	OriginalName string `json:"originalName"`
	UploadedBy   string `json:"uploadedBy"`
	UploadedAt   string `json:"uploadedAt"`
	Timestamp    int64  `json:"timestamp"`
	Type         string `json:"type"`
	Size         int64  `json:"size"`
}

// Gallery maps image ids to their entries.
type Gallery map[string]ImageEntry

// Sorted lists the entries newest first; equal timestamps fall back to file name.
func (g Gallery) Sorted() []ImageEntry {
	entries := make([]ImageEntry, 0, len(g))
	for id, entry := range g {
		if entry.FileName == "" {
			entry.FileName = id
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp != entries[j].Timestamp {
			return entries[i].Timestamp > entries[j].Timestamp
		}
		return entries[i].FileName < entries[j].FileName
	})
	return entries
}

// Clone returns an independent copy of the gallery.
func (g Gallery) Clone() Gallery {
	cloned := make(Gallery, len(g))
	for id, entry := range g {
		cloned[id] = entry
	}
	return cloned
}
