package signaling

type RoomState int

const (
	RoomStateReady RoomState = iota
	RoomStateRegisterOne
	RoomStateWaitRegisterTwo
	RoomStateRegisterTwo
	RoomStateWaitOfferTwo
	// The answer phases are not entered by the forwarding path, which treats
	// offer/answer/candidate as pass-through once two members are present.
	RoomStateWaitAnswerOne
	RoomStateAnswerOne
	RoomStateActive
	RoomStateClosed
)

func (s RoomState) String() string {
	switch s {
	case RoomStateReady:
		return "ready"
	case RoomStateRegisterOne:
		return "registerOne"
	case RoomStateWaitRegisterTwo:
		return "waitRegisterTwo"
	case RoomStateRegisterTwo:
		return "registerTwo"
	case RoomStateWaitOfferTwo:
		return "waitOfferTwo"
	case RoomStateWaitAnswerOne:
		return "waitAnswerOne"
	case RoomStateAnswerOne:
		return "answerOne"
	case RoomStateActive:
		return "active"
	case RoomStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s RoomState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const maxRoomMembers = 2

// room is owned by the Hub and only read or mutated while holding Hub.mu.
type room struct {
	id      string
	state   RoomState
	members []*Connection
}

func newRoom(id string) *room {
	return &room{id: id, state: RoomStateReady}
}

func (r *room) isRegistered() bool {
	return len(r.members) > 0
}

func (r *room) isFull() bool {
	return len(r.members) >= maxRoomMembers
}

func (r *room) add(c *Connection) bool {
	if r.isFull() {
		return false
	}
	r.members = append(r.members, c)
	return true
}

func (r *room) remove(c *Connection) bool {
	for i, m := range r.members {
		if m == c {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}

func (r *room) other(c *Connection) *Connection {
	for _, m := range r.members {
		if m != c {
			return m
		}
	}
	return nil
}

// RoomInfo is a point in time view of a room.
type RoomInfo struct {
	ID      string    `json:"id"`
	State   RoomState `json:"state"`
	Members []string  `json:"members"`
}

func (r *room) info() RoomInfo {
	info := RoomInfo{ID: r.id, State: r.state}
	for _, m := range r.members {
		info.Members = append(info.Members, m.ID().String())
	}
	return info
}
