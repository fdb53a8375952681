package api

type CreateChatRequest struct {
	Name      *string  `json:"name,omitempty"`
	MemberIDs []string `json:"memberIds"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}
