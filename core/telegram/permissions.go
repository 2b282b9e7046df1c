package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/m3rciful/dispatchbot/core/commands"

	tele "gopkg.in/telebot.v4"
)

// MemberAPI is the part of the Bot API used to resolve chat roles.
type MemberAPI interface {
	ChatMemberOf(chat, user tele.Recipient) (*tele.ChatMember, error)
}

type memberKey struct {
	chat int64
	user int64
}

const maxCachedMembers = 4096

type memberEntry struct {
	perms commands.Permissions
	at    time.Time
}

// MemberPermissions resolves command permissions from the sender's chat membership.
// Lookups are cached for TTL to spare the Bot API on bursts of commands.
type MemberPermissions struct {
	TTL time.Duration
	Now func() time.Time

	mu    sync.RWMutex
	api   MemberAPI
	cache map[memberKey]memberEntry
}

// NewMemberPermissions returns an unbound provider. Bind must be called before dispatching.
func NewMemberPermissions(ttl time.Duration) *MemberPermissions {
	return &MemberPermissions{TTL: ttl, cache: make(map[memberKey]memberEntry)}
}

// Bind attaches the Bot API client once the bot is constructed.
func (p *MemberPermissions) Bind(api MemberAPI) {
	p.mu.Lock()
	p.api = api
	p.mu.Unlock()
}

// Permissions reports what the author may do in the chat the message came from.
// Private chats have no roles, so the answer is indeterminate there.
func (p *MemberPermissions) Permissions(_ context.Context, msg *commands.Message) (commands.Permissions, bool, error) {
	if msg.IsDirect() {
		return commands.PermNone, false, nil
	}
	key := memberKey{chat: msg.ChatID, user: msg.AuthorID}
	now := p.now()

	p.mu.RLock()
	api := p.api
	entry, hit := p.cache[key]
	p.mu.RUnlock()
	if api == nil {
		return commands.PermNone, false, fmt.Errorf("telegram: member permissions not bound")
	}
	if hit && p.TTL > 0 && now.Sub(entry.at) < p.TTL {
		return entry.perms, true, nil
	}

	member, err := api.ChatMemberOf(tele.ChatID(msg.ChatID), &tele.User{ID: msg.AuthorID})
	if err != nil {
		return commands.PermNone, false, fmt.Errorf("telegram: chat member %d/%d: %w", msg.ChatID, msg.AuthorID, err)
	}
	perms := MemberRights(member)

	if p.TTL > 0 {
		p.mu.Lock()
		if p.cache == nil {
			p.cache = make(map[memberKey]memberEntry)
		}
		if len(p.cache) >= maxCachedMembers {
			p.pruneLocked(now)
		}
		p.cache[key] = memberEntry{perms: perms, at: now}
		p.mu.Unlock()
	}
	return perms, true, nil
}

// pruneLocked drops entries older than TTL.
func (p *MemberPermissions) pruneLocked(now time.Time) int {
	n := 0
	for k, e := range p.cache {
		if now.Sub(e.at) >= p.TTL {
			delete(p.cache, k)
			n++
		}
	}
	return n
}

func (p *MemberPermissions) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// MemberRights maps a Telegram chat role onto the permission bitset.
func MemberRights(m *tele.ChatMember) commands.Permissions {
	if m == nil {
		return commands.PermNone
	}
	switch m.Role {
	case tele.Creator:
		return commands.PermAll
	case tele.Administrator:
		perms := commands.PermAdministrator
		r := m.Rights
		if r.CanChangeInfo || r.CanManageChat {
			perms |= commands.PermManageChat
		}
		if r.CanDeleteMessages {
			perms |= commands.PermManageMessages
		}
		if r.CanRestrictMembers {
			perms |= commands.PermBanMembers
		}
		if r.CanInviteUsers {
			perms |= commands.PermInviteMembers
		}
		if r.CanPinMessages {
			perms |= commands.PermPinMessages
		}
		if r.CanPromoteMembers {
			perms |= commands.PermPromoteMembers
		}
		return perms
	default:
		return commands.PermNone
	}
}
