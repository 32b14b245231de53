package datastore

import "time"

// User is the durable account record.
type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	CurrentGroupID string    `json:"currentGroupId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Group is the durable group record. It is addressable by ID or JoinCode.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	JoinCode  string    `json:"joinCode"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasMember reports whether userID is in the group's member list.
func (g Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

type Task struct {
	ID          string     `json:"id"`
	GroupID     string     `json:"groupId"`
	Title       string     `json:"title"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
