package server

import (
	"fmt"
	"strconv"
	"strings"
)

// Room name kinds. A user room is joined implicitly on registration;
// chat and org rooms require an explicit, authorized join.
const (
	RoomKindUser = "user"
	RoomKindChat = "chat"
	RoomKindOrg  = "org"
)

// parseRoomName splits a room name such as "chat:7" into its kind and
// numeric id.
func parseRoomName(name string) (string, int, error) {
	kind, idStr, ok := strings.Cut(name, ":")
	if !ok {
		return "", 0, fmt.Errorf("malformed room name %q", name)
	}

	switch kind {
	case RoomKindUser, RoomKindChat, RoomKindOrg:
	default:
		return "", 0, fmt.Errorf("unknown room kind %q", kind)
	}

	id, err := strconv.Atoi(idStr)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("invalid room id %q", idStr)
	}

	return kind, id, nil
}
