// Package domain contains core concepts of the messaging coordinator.
// No runtime, network, or storage logic should be added here.
package domain

// UserIdentity is the caller profile resolved by the identity verifier
// at connection time. It is immutable for the lifetime of a connection
// and re-fetched on reconnect.
type UserIdentity struct {
	UserID      string
	DisplayName string
	Avatar      string
	Active      bool
	Role        string
}
