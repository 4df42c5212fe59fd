package core

// Event type identifiers published by the service. Exactly one primary event
// per mutating entry point; fulfillment additionally publishes one
// token.minted per drawn blueprint before its pack.opened completion event.
const (
	EventBlueprintCreated  = "blueprint.created"
	EventCollectionCreated = "collection.created"
	EventTokenMinted       = "token.minted"
	EventTokenTransferred  = "token.transferred"
	EventPackOrdered       = "pack.ordered"
	EventPackOpened        = "pack.opened"
)

// EventSink receives committed-state events for external observers. The sink
// is invoked after the transaction commits; implementations must not block.
type EventSink interface {
	Publish(eventType string, payload any)
}

type noopEventSink struct{}

func (noopEventSink) Publish(string, any) {}
