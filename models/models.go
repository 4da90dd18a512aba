package models

type User struct {
	ID       int64
	Login    string
	Password string // hashed
}

// Message is one history record. Timestamp is in milliseconds since the epoch.
type Message struct {
	Room      string `json:"room"`
	Author    string `json:"username"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Color     int    `json:"colorIndex"`
}
