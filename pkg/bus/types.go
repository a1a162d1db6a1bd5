package bus

// CommandMessage is an inbound chat message that may carry a relay command
// such as "link 0x...". Channels publish one per user message they accept.
type CommandMessage struct {
	Channel  string `json:"channel"`
	SenderID string `json:"sender_id"`
	ChatID   string `json:"chat_id"`
	Content  string `json:"content"`
}

// Notification is an outbound chat message: either a donation alert produced
// by the delivery pipeline or a reply produced by the linking handler.
type Notification struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}
