package conversation

import "context"

// ReplyMessenger delivers assistant replies back to the patient.
type ReplyMessenger interface {
	SendReply(ctx context.Context, reply OutboundReply) error
}

// OutboundReply carries the data required to push a message to the patient.
// From is the clinic address the inbound message was sent to; empty means
// the messenger's default sender.
type OutboundReply struct {
	To   string
	From string
	Body string
}
