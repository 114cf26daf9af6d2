package main

import (
	"net/netip"
	"sort"

	"github.com/puyokura/nchat/model"
)

// State is the server's membership table. Only the engine loop touches it.
//
// Membership is flat: joining any known group puts the endpoint in the one
// broadcast pool, and nothing expires.
type State struct {
	groups  map[string]struct{}
	members map[netip.AddrPort]string // endpoint -> last seen nickname
}

func NewState(groups ...string) *State {
	s := &State{
		groups:  make(map[string]struct{}),
		members: make(map[netip.AddrPort]string),
	}
	s.AddGroup(model.DefaultGroup)
	for _, g := range groups {
		s.AddGroup(g)
	}
	return s
}

// AddGroup reports whether the group was new. Empty names are refused.
func (s *State) AddGroup(name string) bool {
	if name == "" {
		return false
	}
	if _, ok := s.groups[name]; ok {
		return false
	}
	s.groups[name] = struct{}{}
	return true
}

func (s *State) GroupExists(name string) bool {
	_, ok := s.groups[name]
	return ok
}

// AddMember reports whether the endpoint was not already a member.
func (s *State) AddMember(m model.Member) bool {
	_, existed := s.members[m.Address]
	s.members[m.Address] = m.Nickname
	return !existed
}

// RemoveMember is a no-op for endpoints that are not members.
func (s *State) RemoveMember(addr netip.AddrPort) bool {
	if _, ok := s.members[addr]; !ok {
		return false
	}
	delete(s.members, addr)
	return true
}

func (s *State) IsMember(addr netip.AddrPort) bool {
	_, ok := s.members[addr]
	return ok
}

func (s *State) Nickname(addr netip.AddrPort) string {
	return s.members[addr]
}

func (s *State) MemberCount() int {
	return len(s.members)
}

// Members returns the member endpoints in a stable order.
func (s *State) Members() []model.Member {
	out := make([]model.Member, 0, len(s.members))
	for addr, nick := range s.members {
		out = append(out, model.NewMember(nick, addr))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Compare(out[j].Address) < 0
	})
	return out
}

func (s *State) Groups() []string {
	out := make([]string, 0, len(s.groups))
	for g := range s.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
