package domain

type SendMessageCommand struct {
	From string `validate:"required"`
	To   string `validate:"required"`
	Body string
}

// ConversationQuery addresses the unordered pair of two participants.
type ConversationQuery struct {
	User1 string `validate:"required"`
	User2 string `validate:"required,nefield=User1"`
}
