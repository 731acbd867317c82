package notification

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_notifier.go -package=mocks . Notifier,Hub

// Hub tracks open stream connections per participant.
type Hub interface {
	Notifier

	// Client management. Register fails with ErrClientExists for an id that is
	// already connected.
	Register(client *Client) error
	Unregister(clientID string)
	GetClientCount() int

	// SendToParticipant returns how many connections accepted the message.
	SendToParticipant(participant string, message *Message) int

	// Lifecycle
	Stop()
}
