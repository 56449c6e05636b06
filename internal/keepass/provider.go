// Package keepass resolves the Trading 212 API credentials from a KeePass
// (kdbx) database. The lookup is scoped: open, decode, resolve, done — no
// process-wide state.
package keepass

import (
	"fmt"
	"os"
	"strings"

	"github.com/tobischo/gokeepasslib/v3"
)

// Credentials is the resolved API key/secret pair. The entry's UserName field
// carries the key, its Password field the secret.
type Credentials struct {
	APIKey    string
	APISecret string
}

// CredentialError is fatal: without credentials nothing can be fetched
type CredentialError struct {
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential resolution failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("credential resolution failed: %s", e.Reason)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// Params locates the database and the entry within it
type Params struct {
	Database string // path to the .kdbx file
	Entry    string // entry title, optionally prefixed with a group path ("Finance/Trading212")
	Password string
	Keyfile  string // optional keyfile alongside the master password
}

// Resolve opens the database, locates the entry and returns the key/secret pair
func Resolve(p Params) (*Credentials, error) {
	f, err := os.Open(p.Database)
	if err != nil {
		return nil, &CredentialError{Reason: "database not accessible", Err: err}
	}
	defer f.Close()

	db := gokeepasslib.NewDatabase()
	if p.Keyfile != "" {
		creds, err := gokeepasslib.NewPasswordAndKeyCredentials(p.Password, p.Keyfile)
		if err != nil {
			return nil, &CredentialError{Reason: "keyfile not usable", Err: err}
		}
		db.Credentials = creds
	} else {
		db.Credentials = gokeepasslib.NewPasswordCredentials(p.Password)
	}

	if err := gokeepasslib.NewDecoder(f).Decode(db); err != nil {
		return nil, &CredentialError{Reason: "failed to decode database", Err: err}
	}
	if err := db.UnlockProtectedEntries(); err != nil {
		return nil, &CredentialError{Reason: "failed to unlock protected values", Err: err}
	}

	entry := findEntry(db.Content.Root, p.Entry)
	if entry == nil {
		return nil, &CredentialError{Reason: fmt.Sprintf("entry %q not found", p.Entry)}
	}

	key := entry.GetContent("UserName")
	secret := entry.GetPassword()
	if key == "" || secret == "" {
		return nil, &CredentialError{Reason: fmt.Sprintf("entry %q has no username/password pair", p.Entry)}
	}

	return &Credentials{APIKey: key, APISecret: secret}, nil
}

// findEntry resolves an entry identifier. A bare title is searched across all
// groups; a slash-separated identifier walks the exact group path first.
func findEntry(root *gokeepasslib.RootData, identifier string) *gokeepasslib.Entry {
	parts := strings.Split(identifier, "/")
	title := parts[len(parts)-1]
	groupPath := parts[:len(parts)-1]

	if len(groupPath) == 0 {
		for i := range root.Groups {
			if entry := searchGroups(&root.Groups[i], title); entry != nil {
				return entry
			}
		}
		return nil
	}

	group := navigate(root.Groups, groupPath)
	if group == nil && len(root.Groups) == 1 {
		// KeePass files usually wrap everything in a single top group, group
		// paths are written relative to it
		group = navigate(root.Groups[0].Groups, groupPath)
	}
	if group == nil {
		return nil
	}
	return entryByTitle(group, title)
}

// navigate descends the group tree along the given path
func navigate(groups []gokeepasslib.Group, path []string) *gokeepasslib.Group {
	current := groups
	var found *gokeepasslib.Group

	for _, name := range path {
		found = nil
		for i := range current {
			if current[i].Name == name {
				found = &current[i]
				break
			}
		}
		if found == nil {
			return nil
		}
		current = found.Groups
	}

	return found
}

// searchGroups looks for a title in this group and all subgroups
func searchGroups(group *gokeepasslib.Group, title string) *gokeepasslib.Entry {
	if entry := entryByTitle(group, title); entry != nil {
		return entry
	}
	for i := range group.Groups {
		if entry := searchGroups(&group.Groups[i], title); entry != nil {
			return entry
		}
	}
	return nil
}

// entryByTitle matches an entry directly inside the group
func entryByTitle(group *gokeepasslib.Group, title string) *gokeepasslib.Entry {
	for i := range group.Entries {
		if group.Entries[i].GetTitle() == title {
			return &group.Entries[i]
		}
	}
	return nil
}
