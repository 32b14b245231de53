package datastore

import "context"

// Store is the document store the gateway persists to. Implementations return
// errors from this package's taxonomy so callers can tell connectivity
// failures from validation and lookup failures.
type Store interface {
	CreateUser(ctx context.Context, username string) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	SetCurrentGroup(ctx context.Context, userID, groupID string) error

	CreateGroup(ctx context.Context, name, joinCode string) (Group, error)
	GetGroupByID(ctx context.Context, id string) (Group, error)
	GetGroupByJoinCode(ctx context.Context, joinCode string) (Group, error)
	AddGroupMember(ctx context.Context, groupID, userID string) (Group, error)

	CreateTask(ctx context.Context, groupID, title string) (Task, error)
	SetTaskCompleted(ctx context.Context, taskID string, completed bool) (Task, error)
}
