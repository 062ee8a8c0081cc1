package interfaces

// Notifier dispatches user-facing notifications. Calls are fire-and-forget:
// best effort, never retried here, never an error to the caller.
type Notifier interface {
	Notify(userID, templateKey string, data map[string]interface{})
}
