package commands

import (
	"fmt"
	"math/bits"
	"strings"
)

// Permissions is a set of permission flags granted to a user or required by a command.
type Permissions uint64

const (
	// PermAdministrator is held by every chat administrator and the owner.
	PermAdministrator Permissions = 1 << iota
	// PermManageChat allows editing the chat title, photo and settings.
	PermManageChat
	// PermManageMessages allows deleting messages of other members.
	PermManageMessages
	// PermBanMembers allows restricting and banning members.
	PermBanMembers
	// PermInviteMembers allows inviting users and creating invite links.
	PermInviteMembers
	// PermPinMessages allows pinning messages.
	PermPinMessages
	// PermPromoteMembers allows appointing administrators.
	PermPromoteMembers

	// PermNone is the empty set.
	PermNone Permissions = 0
	// PermAll contains every known flag.
	PermAll = PermAdministrator | PermManageChat | PermManageMessages | PermBanMembers |
		PermInviteMembers | PermPinMessages | PermPromoteMembers
)

var permissionNames = []struct {
	flag Permissions
	name string
}{
	{PermAdministrator, "ADMINISTRATOR"},
	{PermManageChat, "MANAGE_CHAT"},
	{PermManageMessages, "MANAGE_MESSAGES"},
	{PermBanMembers, "BAN_MEMBERS"},
	{PermInviteMembers, "INVITE_MEMBERS"},
	{PermPinMessages, "PIN_MESSAGES"},
	{PermPromoteMembers, "PROMOTE_MEMBERS"},
}

// Has reports whether p contains every flag of required.
func (p Permissions) Has(required Permissions) bool {
	return p&required == required
}

// Empty reports whether no flag is set.
func (p Permissions) Empty() bool {
	return p == PermNone
}

// Len returns the number of flags in the set.
func (p Permissions) Len() int {
	return bits.OnesCount64(uint64(p))
}

// Names lists the flag names in declaration order.
func (p Permissions) Names() []string {
	var out []string
	for _, pn := range permissionNames {
		if p&pn.flag != 0 {
			out = append(out, pn.name)
		}
	}
	return out
}

// String joins the flag names with '|'.
func (p Permissions) String() string {
	if p.Empty() {
		return "NONE"
	}
	return strings.Join(p.Names(), "|")
}

// ParsePermissions converts names such as "BAN_MEMBERS" into a set. Matching ignores case.
func ParsePermissions(names ...string) (Permissions, error) {
	var out Permissions
	for _, raw := range names {
		name := strings.ToUpper(strings.TrimSpace(raw))
		if name == "" || name == "NONE" {
			continue
		}
		found := false
		for _, pn := range permissionNames {
			if pn.name == name {
				out |= pn.flag
				found = true
				break
			}
		}
		if !found {
			return PermNone, fmt.Errorf("commands: unknown permission %q", raw)
		}
	}
	return out, nil
}
