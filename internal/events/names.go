package events

// Event names shared by the chat and live namespaces.
const (
	EndUserConnect      = "endUserConnect"
	JoinConversation    = "joinConversation"
	LeaveConversation   = "leaveConversation"
	SendMessage         = "sendMessage"
	SendFile            = "sendFile"
	SeenMessage         = "seenMessage"
	ActiveList          = "activeList"
	DeleteMessage       = "deleteMessage"
	RequestCall         = "requestCall"
	RequestCancel       = "requestCancel"
	RequestAccept       = "requestAccept"
	RequestDeny         = "requestDeny"
	MemberLeft          = "memberLeft"
	CallMessageFromPeer = "callMessageFromPeer"

	UserJoin       = "userJoin"
	StopLiveStream = "stopLiveStream"
	AddQuestion    = "addQuestion"
	QuestionChoice = "questionChoice"

	SessionReplaced = "sessionReplaced"
	Error           = "error"
)

// AckEvent is the reply name for a successful request.
func AckEvent(event string) string { return event + "-ack" }
