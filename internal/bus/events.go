package bus

// Keyboard is a reply keyboard: rows of button labels.
type Keyboard [][]string

type InboundMessage struct {
	Channel  string
	SenderID string
	ChatID   int64
	Content  string
}

type OutboundMessage struct {
	Channel string
	ChatID  int64
	// Content is already formatted for the channel (HTML for telegram).
	Content  string
	Keyboard Keyboard
}
