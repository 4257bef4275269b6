// Package auth decides which Telegram users may talk to the assistant.
//
// Access is granted by stable numeric user ID. Usernames are mutable and
// optional on Telegram, so they are never used for authorization.
package auth

import (
	"fmt"
	"strconv"
	"strings"
)

// RefusalMessage is sent to users that are not on the allow-list.
const RefusalMessage = "You are not authorized to use this bot"

// AllowList is an immutable set of authorized user IDs.
// An empty AllowList denies everyone. It is safe for concurrent use.
type AllowList struct {
	ids map[int64]struct{}
}

// NewAllowList returns an AllowList containing ids.
func NewAllowList(ids ...int64) *AllowList {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return &AllowList{ids: m}
}

// ParseIDs parses a comma or whitespace separated list of user IDs, as found
// in the TELEGRAM_USER_ID environment variable.
func ParseIDs(s string) ([]int64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("auth: invalid user id %q: %w", f, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Allowed reports whether userID may use the bot.
func (a *AllowList) Allowed(userID int64) bool {
	if a == nil {
		return false
	}
	_, ok := a.ids[userID]
	return ok
}

// Len returns the number of authorized users.
func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.ids)
}
