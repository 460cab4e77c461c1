// Package models contains the persistent entities of the marketplace
package models

// AllModels lists every entity in migration order
func AllModels() []any {
	return []any{
		&Offer{},
		&Application{},
		&ClickEvent{},
		&Analytics{},
		&Conversation{},
		&Message{},
	}
}
