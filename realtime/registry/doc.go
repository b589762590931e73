// Package registry keeps the message type to listener mapping used by the
// store's dispatcher.
//
// Each Subscribe call is an independent membership: registering the same
// function twice yields two entries, and each returned unsubscribe removes
// only its own. Listeners returns a snapshot in subscription order, so a
// dispatch in progress is unaffected by concurrent changes.
package registry
