package domain

const (
	EventTypeMessage = "message"
	MessageTypeText  = "text"
)

// Event is one inbound occurrence reported by the messaging platform, reduced
// to the fields the conversation flow reads.
type Event struct {
	ID          string
	Type        string
	MessageType string
	UserID      string
	Text        string
	Redelivery  bool
}

// IsTextMessage reports whether the event is a text message from a known user.
func (e Event) IsTextMessage() bool {
	return e.Type == EventTypeMessage && e.MessageType == MessageTypeText && e.UserID != ""
}
