// Package notifications delivers audiobook run events and user notices.
//
// Every event is written to the application log so notices such as
// "generation already in progress" are always visible. When an ntfy topic is
// configured, enabled events are also pushed over HTTP. Pipeline code depends
// only on the Service interface.
package notifications
