package models

import "fmt"

// PromptIdentity disambiguates a prompt template. Bumping Version invalidates
// every cached prediction made with the previous version.
type PromptIdentity struct {
	Name    string `json:"name" yaml:"name"`
	Version uint16 `json:"version" yaml:"version"`
}

func (p PromptIdentity) String() string {
	return fmt.Sprintf("%s V%d", p.Name, p.Version)
}

// EnvironmentDescriptor identifies the backend that produced a result.
type EnvironmentDescriptor struct {
	Provider        string `json:"provider"`
	Model           string `json:"model"`
	ModerationModel string `json:"moderation_model,omitempty"`
}

// String renders the descriptor as stored alongside predictions ("model,provider").
func (e EnvironmentDescriptor) String() string {
	return e.Model + "," + e.Provider
}

// Role is the author of a primer message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a primer. Order is significant.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System, User and Assistant build primer messages.
func System(s string) Message    { return Message{Role: RoleSystem, Content: s} }
func User(s string) Message      { return Message{Role: RoleUser, Content: s} }
func Assistant(s string) Message { return Message{Role: RoleAssistant, Content: s} }
