package rtm

import "encoding/json"

// frame is the type-peek for incoming RTM frames.
type frame struct {
	Type    string `json:"type"`
	ReplyTo *int64 `json:"reply_to,omitempty"`
	OK      *bool  `json:"ok,omitempty"`
	Error   *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error,omitempty"`
}

// outgoing is a client frame; the id is echoed back as reply_to.
type outgoing struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// directory change payloads carry the full record as an object.
type channelChange struct {
	Channel struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"channel"`
}

type userChange struct {
	User struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
}

func peek(raw []byte) (frame, error) {
	var f frame
	err := json.Unmarshal(raw, &f)
	return f, err
}
