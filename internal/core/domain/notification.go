package domain

import "time"

type NotificationType string

const (
	NotificationCommunityActivated NotificationType = "community_activated"
	NotificationBeneficiaryAdded   NotificationType = "beneficiary_added"
	NotificationManagerAdded       NotificationType = "manager_added"
	NotificationLoanAdded          NotificationType = "loan_added"
)

// Notification is a fire-and-forget request for the push collaborator.
type Notification struct {
	ID        string           `json:"id"`
	User      string           `json:"user"`
	Type      NotificationType `json:"type"`
	Payload   map[string]any   `json:"payload,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
