package progression

// Presenter receives fire-and-forget notifications. The engine never
// depends on anything a presenter does, and it calls presenters only after
// releasing its own locks, so a presenter may call back into the session.
type Presenter interface {
	// OnCompletionEvent fires when an event becomes the current one.
	OnCompletionEvent(ev CompletionEvent)
	OnGraphChanged(nodes []JourneyNode)
	OnInsufficientFunds(item InventoryItem)
}

type NopPresenter struct{}

func (NopPresenter) OnCompletionEvent(CompletionEvent) {}
func (NopPresenter) OnGraphChanged([]JourneyNode)      {}
func (NopPresenter) OnInsufficientFunds(InventoryItem) {}
