package librtm

import (
	"slices"
	"sort"
	"sync/atomic"
)

type (
	Self struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	Team struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Domain string `json:"domain"`
	}

	User struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		RealName string `json:"real_name,omitempty"`
		Presence string `json:"presence,omitempty"`
		Deleted  bool   `json:"deleted,omitempty"`
		IsBot    bool   `json:"is_bot,omitempty"`
	}

	Channel struct {
		ID         string   `json:"id"`
		Name       string   `json:"name"`
		Created    int64    `json:"created,omitempty"`
		Creator    string   `json:"creator,omitempty"`
		IsMember   bool     `json:"is_member,omitempty"`
		IsArchived bool     `json:"is_archived,omitempty"`
		Members    []string `json:"members,omitempty"`
	}

	// Snapshot is what a bootstrap returns: where to connect and the full
	// session state at that moment.
	Snapshot struct {
		Endpoint string
		Self     Self
		Team     Team
		Users    []User
		Channels []Channel
	}
)

// mirrorState is never mutated once published.
type mirrorState struct {
	generation uint64
	endpoint   string
	self       Self
	team       Team
	users      map[string]User
	channels   map[string]Channel
}

func (s *mirrorState) clone() *mirrorState {
	next := *s
	return &next
}

func (s *mirrorState) withChannel(c Channel) *mirrorState {
	next := s.clone()
	next.channels = make(map[string]Channel, len(s.channels)+1)
	for k, v := range s.channels {
		next.channels[k] = v
	}
	next.channels[c.ID] = c
	return next
}

func (s *mirrorState) withoutChannel(id string) *mirrorState {
	next := s.clone()
	next.channels = make(map[string]Channel, len(s.channels))
	for k, v := range s.channels {
		if k != id {
			next.channels[k] = v
		}
	}
	return next
}

func (s *mirrorState) withUser(u User) *mirrorState {
	next := s.clone()
	next.users = make(map[string]User, len(s.users)+1)
	for k, v := range s.users {
		next.users[k] = v
	}
	next.users[u.ID] = u
	return next
}

// StateView is a read-only view of the mirror at the moment it was taken.
// Later events never change a view that has already been handed out.
type StateView struct {
	s *mirrorState
}

// Generation counts bootstraps: every Reset bumps it. Zero means no snapshot
// has been loaded yet.
func (v StateView) Generation() uint64 {
	if v.s == nil {
		return 0
	}
	return v.s.generation
}

func (v StateView) Endpoint() string {
	if v.s == nil {
		return ""
	}
	return v.s.endpoint
}

func (v StateView) Self() Self {
	if v.s == nil {
		return Self{}
	}
	return v.s.self
}

func (v StateView) Team() Team {
	if v.s == nil {
		return Team{}
	}
	return v.s.team
}

func (v StateView) Channel(id string) (Channel, bool) {
	if v.s == nil {
		return Channel{}, false
	}
	c, ok := v.s.channels[id]
	return copyChannel(c), ok
}

// Channels returns all known channels ordered by id.
func (v StateView) Channels() []Channel {
	if v.s == nil {
		return nil
	}
	out := make([]Channel, 0, len(v.s.channels))
	for _, c := range v.s.channels {
		out = append(out, copyChannel(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v StateView) User(id string) (User, bool) {
	if v.s == nil {
		return User{}, false
	}
	u, ok := v.s.users[id]
	return u, ok
}

// Users returns all known users ordered by id.
func (v StateView) Users() []User {
	if v.s == nil {
		return nil
	}
	out := make([]User, 0, len(v.s.users))
	for _, u := range v.s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyChannel(c Channel) Channel {
	if c.Members != nil {
		c.Members = append([]string(nil), c.Members...)
	}
	return c
}

// StateMirror holds the local copy of the session state. Reset and Apply must
// be called from a single goroutine; Read is safe from any goroutine.
type StateMirror struct {
	current atomic.Pointer[mirrorState]
}

func NewStateMirror() *StateMirror {
	m := &StateMirror{}
	m.current.Store(&mirrorState{
		users:    map[string]User{},
		channels: map[string]Channel{},
	})
	return m
}

// Read returns the current view.
func (m *StateMirror) Read() StateView {
	return StateView{s: m.current.Load()}
}

// Reset discards the current state and replaces it with snap.
func (m *StateMirror) Reset(snap Snapshot) {
	prev := m.current.Load()
	next := &mirrorState{
		generation: prev.generation + 1,
		endpoint:   snap.Endpoint,
		self:       snap.Self,
		team:       snap.Team,
		users:      make(map[string]User, len(snap.Users)),
		channels:   make(map[string]Channel, len(snap.Channels)),
	}
	for _, u := range snap.Users {
		next.users[u.ID] = u
	}
	for _, c := range snap.Channels {
		next.channels[c.ID] = copyChannel(c)
	}
	m.current.Store(next)
}

// Apply folds an incremental change into the mirror. Events that do not
// describe state changes are ignored.
func (m *StateMirror) Apply(ev Event) {
	cur := m.current.Load()
	if next := applyEvent(cur, ev); next != cur {
		m.current.Store(next)
	}
}

func applyEvent(s *mirrorState, ev Event) *mirrorState {
	switch e := ev.(type) {
	case *ChannelCreatedEvent:
		if e.Channel.ID == "" {
			return s
		}
		if _, ok := s.channels[e.Channel.ID]; ok {
			return s
		}
		return s.withChannel(copyChannel(e.Channel))
	case *ChannelJoinedEvent:
		if e.Channel.ID == "" {
			return s
		}
		c := copyChannel(e.Channel)
		c.IsMember = true
		return s.withChannel(c)
	case *ChannelLeftEvent:
		return s.updateChannel(e.Channel, func(c *Channel) { c.IsMember = false })
	case *ChannelRenameEvent:
		return s.updateChannel(e.Channel.ID, func(c *Channel) { c.Name = e.Channel.Name })
	case *ChannelDeletedEvent:
		if _, ok := s.channels[e.Channel]; !ok {
			return s
		}
		return s.withoutChannel(e.Channel)
	case *ChannelArchiveEvent:
		return s.updateChannel(e.Channel, func(c *Channel) { c.IsArchived = true })
	case *ChannelUnarchiveEvent:
		return s.updateChannel(e.Channel, func(c *Channel) { c.IsArchived = false })
	case *MemberJoinedChannelEvent:
		return s.updateChannel(e.Channel, func(c *Channel) {
			if !slices.Contains(c.Members, e.User) {
				c.Members = append(c.Members, e.User)
			}
			if e.User == s.self.ID {
				c.IsMember = true
			}
		})
	case *MemberLeftChannelEvent:
		return s.updateChannel(e.Channel, func(c *Channel) {
			c.Members = slices.DeleteFunc(c.Members, func(m string) bool { return m == e.User })
			if e.User == s.self.ID {
				c.IsMember = false
			}
		})
	case *PresenceChangeEvent:
		if e.User == "" {
			return s
		}
		u, ok := s.users[e.User]
		if !ok {
			u = User{ID: e.User}
		}
		u.Presence = e.Presence
		return s.withUser(u)
	case *UserChangeEvent:
		if e.User.ID == "" {
			return s
		}
		return s.withUser(e.User)
	case *TeamJoinEvent:
		if e.User.ID == "" {
			return s
		}
		return s.withUser(e.User)
	}
	return s
}

// updateChannel applies fn to a copy of the channel, if known.
func (s *mirrorState) updateChannel(id string, fn func(*Channel)) *mirrorState {
	c, ok := s.channels[id]
	if !ok {
		return s
	}
	c = copyChannel(c)
	fn(&c)
	return s.withChannel(c)
}
