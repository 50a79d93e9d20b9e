package mastodon

import "time"

// Account is the author identity attached to statuses and notifications.
type Account struct {
	ID          string `json:"id"`
	Acct        string `json:"acct"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// Attachment is a media attachment on a status.
type Attachment struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	URL        string `json:"url"`
	PreviewURL string `json:"preview_url"`
	Mime       string `json:"-"`
}

// Status is a single message in a reply thread.
type Status struct {
	ID               string       `json:"id"`
	InReplyToID      string       `json:"in_reply_to_id"`
	Account          Account      `json:"account"`
	Content          string       `json:"content"`
	CreatedAt        time.Time    `json:"created_at"`
	Visibility       string       `json:"visibility"`
	MediaAttachments []Attachment `json:"media_attachments"`
}

// Context is the reply-thread neighborhood of a status.
type Context struct {
	Ancestors   []Status `json:"ancestors"`
	Descendants []Status `json:"descendants"`
}

// Notification is a streaming event addressed to the bot.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Account   Account   `json:"account"`
	Status    *Status   `json:"status"`
}

// NotificationMention is the notification type the dispatcher reacts to.
const NotificationMention = "mention"

// PostRequest publishes a reply.
type PostRequest struct {
	Status      string `json:"status"`
	InReplyToID string `json:"in_reply_to_id,omitempty"`
	Visibility  string `json:"visibility,omitempty"`
}
