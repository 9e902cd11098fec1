// Package imap is a small, pragmatic IMAP engine for mailbox sync.
//
// It covers the handful of operations a sync client needs:
//
//   - Connecting over TLS or plain TCP with CRLF line I/O and a per-session
//     transcript that never records secrets
//   - Authenticating with LOGIN or SASL XOAUTH2 (OAuth 2.0 bearer tokens),
//     with a structured diagnostic for every failed bearer handshake
//   - Resolving an account: NAMESPACE, LIST and SPECIAL-USE/XLIST roles
//   - Selecting a folder, UID SEARCH and byte-exact UID FETCH of bodies
//
// Every blocking call is bounded by a timeout from Options, and a
// cancelled context surfaces as a TransportError of kind KindCanceled.
package imap
