package snapshot

import "github.com/tidwall/gjson"

const (
	roomPath = `__DEFAULT_SCOPE__.webapp\.live-detail.liveRoomInfo`
	userPath = `__DEFAULT_SCOPE__.webapp\.user-detail.userInfo.user`
)

// LiveRoomInfo is the room metadata found in the page's rehydration data.
// Missing values stay at their zero value.
type LiveRoomInfo struct {
	RoomID        string `json:"room_id,omitempty"`
	Title         string `json:"title,omitempty"`
	Status        *int   `json:"status,omitempty"`
	UserCount     *int   `json:"user_count,omitempty"`
	StreamURL     string `json:"stream_url,omitempty"`
	OwnerNickname string `json:"owner_nickname,omitempty"`
	OwnerID       string `json:"owner_id,omitempty"`
}

func ParseLiveRoomInfo(data []byte) LiveRoomInfo {
	doc := gjson.ParseBytes(data)
	room := doc.Get(roomPath)
	user := doc.Get(userPath)

	info := LiveRoomInfo{
		RoomID:        room.Get("id").String(),
		Title:         room.Get("title").String(),
		Status:        optionalInt(room.Get("status")),
		UserCount:     optionalInt(room.Get("userCount")),
		StreamURL:     room.Get("streamUrl").String(),
		OwnerNickname: user.Get("nickname").String(),
		OwnerID:       user.Get("id").String(),
	}
	return info
}

func (i LiveRoomInfo) IsZero() bool {
	return i == LiveRoomInfo{}
}

func optionalInt(r gjson.Result) *int {
	if r.Type != gjson.Number {
		return nil
	}
	n := int(r.Int())
	return &n
}
