package queue

const (
	// MessageStream carries finalized assistant messages to the persistence worker.
	MessageStream = "relay_messages"
	// MessageDLQStream holds messages that exhausted their persistence attempts.
	MessageDLQStream = "relay_messages_dlq"
	// PersistGroup is the consumer group of the persistence workers.
	PersistGroup = "relay_persist"
	// StopChannel is the pub/sub channel that fans stop signals out to every server instance.
	StopChannel = "relay_turn_stop"
)
