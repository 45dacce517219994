package service

// ActivityActor represents the authenticated caller performing an action.
type ActivityActor struct {
	ID   uint
	Role string
}
