// Package conversation models the bounded chat window a session keeps and
// hands, as a copy, to the answering engine.
package conversation

import "time"

type Role string

const (
	RoleUser   Role = "user"
	RoleAI     Role = "ai"
	RoleSystem Role = "system"
)

// DefaultWindow is how many recent messages are relevant to a query.
const DefaultWindow = 10

// Message is one turn of the conversation. Confidence and Topic are only
// set on RoleAI messages.
type Message struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Files      []string  `json:"files,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
	Topic      string    `json:"topic,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewUserMessage(content string, files []string) Message {
	return Message{
		Role:      RoleUser,
		Content:   content,
		Files:     append([]string(nil), files...),
		Timestamp: time.Now(),
	}
}

func NewAIMessage(content string, confidence float64, topic string) Message {
	return Message{
		Role:       RoleAI,
		Content:    content,
		Confidence: &confidence,
		Topic:      topic,
		Timestamp:  time.Now(),
	}
}

func NewSystemMessage(content string) Message {
	return Message{
		Role:      RoleSystem,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func (m Message) clone() Message {
	if m.Files != nil {
		m.Files = append([]string(nil), m.Files...)
	}
	if m.Confidence != nil {
		c := *m.Confidence
		m.Confidence = &c
	}
	return m
}

// Window copies the last n messages, oldest first. n <= 0 yields nil.
func Window(msgs []Message, n int) []Message {
	if n <= 0 || len(msgs) == 0 {
		return nil
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.clone()
	}
	return out
}
