package domain

// UserID identifies an end user across namespaces.
type UserID string

// RoomID names a transport-local grouping (conversation, call or broadcast).
type RoomID string

// CallRoom is the room used for call signaling inside a conversation.
func CallRoom(conversationID string) RoomID {
	return RoomID("call:" + conversationID)
}

func (u UserID) String() string { return string(u) }
func (r RoomID) String() string { return string(r) }
