package sessions

import "fmt"

// BuildSessionKey derives the default session key the routing loop mints
// when an inbound message carries no explicit override. Session keys are
// otherwise opaque strings to the Session Manager — callers may supply any
// string of their own.
func BuildSessionKey(channelType, channelID, senderID string) string {
	return fmt.Sprintf("%s:%s:%s", channelType, channelID, senderID)
}
