package gateway

import (
	"strings"

	"github.com/wabot/wabot/pkg/consts"
	werrors "github.com/wabot/wabot/pkg/errors"
)

// maxContactDigits is the longest phone number; longer numeric ids are groups.
const maxContactDigits = 15

// ResolveTarget turns a user-supplied target into a chat id. Ids that
// already carry a suffix pass through, long numeric ids are groups and
// anything else is reduced to its digits as a contact.
func ResolveTarget(target string) (string, error) {
	target = strings.TrimSpace(target)
	switch {
	case target == "":
		return "", invalidTarget("target is empty")
	case strings.Contains(target, "@"):
		return target, nil
	case isDigits(target) && len(target) > maxContactDigits:
		return target + consts.GroupSuffix, nil
	}

	digits := keep(target, func(r rune) bool { return r >= '0' && r <= '9' })
	if digits == "" {
		return "", invalidTarget("target has no digits: " + target)
	}
	return digits + consts.ContactSuffix, nil
}

// FormatGroupID normalizes a group id to "<id>@g.us".
func FormatGroupID(id string) (string, error) {
	id = strings.TrimSuffix(strings.TrimSpace(id), consts.GroupSuffix)
	id = keep(id, func(r rune) bool { return (r >= '0' && r <= '9') || r == '-' })
	if id == "" {
		return "", invalidTarget("group id is empty")
	}
	return id + consts.GroupSuffix, nil
}

func invalidTarget(msg string) error {
	return werrors.New(werrors.ErrCodeInvalidTarget, "ResolveTarget", msg, nil)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func keep(s string, ok func(rune) bool) string {
	var b strings.Builder
	for _, r := range s {
		if ok(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Personal.AI order the ending
