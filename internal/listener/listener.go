// Package listener implements the capability-typed observer registry (C8):
// application-level sinks for notifications, private messages, and
// broadcasts. §9 "Design Notes" re-architects the original's dynamic
// interface checks as a registry of tagged variants; this package models
// that tag with a small closed Listener type rather than runtime type
// assertions against arbitrary registered values.
package listener

// NotificationSink receives a user-facing notification: the counterparty's
// guid, display handle, notification kind ("follow", "new order",
// "order confirmed", "order completed", "refund", ...), an optional
// sub-id (e.g. order_id), a title, and an image hash.
type NotificationSink func(guid [20]byte, handle, kind, subID, title, imageHash string)

// MessageSink receives a decrypted plaintext private message along with
// the embedded signature that authenticated it.
type MessageSink func(plaintextMessage, signature []byte)

// BroadcastSink receives a fanned-out broadcast from a followed peer.
type BroadcastSink func(guid [20]byte, message []byte)

// Listener is a tagged union of the three observer roles (§9). Exactly one
// of the three fields is non-nil for any constructed Listener; use the
// AsNotification / AsMessage / AsBroadcast constructors rather than
// building one by hand.
type Listener struct {
	notification NotificationSink
	message      MessageSink
	broadcast    BroadcastSink
}

// AsNotification tags sink as a NotificationListener.
func AsNotification(sink NotificationSink) Listener { return Listener{notification: sink} }

// AsMessage tags sink as a MessageListener.
func AsMessage(sink MessageSink) Listener { return Listener{message: sink} }

// AsBroadcast tags sink as a BroadcastListener.
func AsBroadcast(sink BroadcastSink) Listener { return Listener{broadcast: sink} }

// Registry is the per-process collection of registered listeners, added in
// arbitrary order (§4.6).
type Registry struct {
	listeners []Listener
}

// NewRegistry returns an empty listener registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers l with the registry.
func (r *Registry) Add(l Listener) {
	r.listeners = append(r.listeners, l)
}

// FirstNotification returns the first registered NotificationSink, or nil
// if none is registered - the "first-listener-implementing(role)" lookup
// RPC handlers use when they need a specific sink (§9).
func (r *Registry) FirstNotification() NotificationSink {
	for _, l := range r.listeners {
		if l.notification != nil {
			return l.notification
		}
	}
	return nil
}

// FirstMessage returns the first registered MessageSink, or nil.
func (r *Registry) FirstMessage() MessageSink {
	for _, l := range r.listeners {
		if l.message != nil {
			return l.message
		}
	}
	return nil
}

// NotifyAll invokes every registered NotificationSink. Missing listeners
// are silently ignored (§4.6).
func (r *Registry) NotifyAll(guid [20]byte, handle, kind, subID, title, imageHash string) {
	for _, l := range r.listeners {
		if l.notification != nil {
			l.notification(guid, handle, kind, subID, title, imageHash)
		}
	}
}

// BroadcastAll fans a broadcast message out to every registered
// BroadcastSink.
func (r *Registry) BroadcastAll(guid [20]byte, message []byte) {
	for _, l := range r.listeners {
		if l.broadcast != nil {
			l.broadcast(guid, message)
		}
	}
}

// MessageAll fans a decrypted private message out to every registered
// MessageSink.
func (r *Registry) MessageAll(plaintextMessage, signature []byte) {
	for _, l := range r.listeners {
		if l.message != nil {
			l.message(plaintextMessage, signature)
		}
	}
}
