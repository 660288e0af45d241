// Package kerberos verifies Kerberos user identities (identity mode 3).
//
// The Provider holds the service keytab, reloads it when the file changes,
// and checks AP-REQ tokens with gokrb5. A token may arrive as a raw AP-REQ,
// wrapped in a GSS-API initial context token, or inside a SPNEGO
// NegTokenInit. When the requestor asks for a positive response, the
// Provider answers with an AP-REP in the same wrapping.
//
// References:
//   - RFC 4120: The Kerberos Network Authentication Service (V5)
//   - RFC 4121: The Kerberos Version 5 GSS-API Mechanism
//   - RFC 4178: SPNEGO
package kerberos
