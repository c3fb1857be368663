package douyu

import "strings"

// Message types the chat collector cares about.
const (
	TypeChatMessage = "chatmsg"
)

// ParseKV parses a slash-separated STT payload of key@=value tokens into a
// map. Malformed tokens are skipped; a payload never fails as a whole.
func ParseKV(payload string) map[string]string {
	kv := make(map[string]string)
	for _, token := range strings.Split(payload, "/") {
		if token == "" {
			continue
		}
		key, value, ok := strings.Cut(token, "@=")
		if !ok {
			continue
		}
		kv[key] = Unescape(value)
	}
	return kv
}

// LoginPayload is the first frame sent after connecting to the chat socket.
func LoginPayload(roomID string) string {
	return "type@=loginreq/roomid@=" + roomID + "/"
}

// JoinGroupPayload subscribes to the room's broadcast group. Group -9999
// receives the full message stream.
func JoinGroupPayload(roomID string) string {
	return "type@=joingroup/rid@=" + roomID + "/gid@=-9999/"
}

// HeartbeatPayload keeps the chat socket alive; the server drops silent
// connections after about a minute.
func HeartbeatPayload() string {
	return "type@=mrkl/"
}
