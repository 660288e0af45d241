// Package auth verifies DICOM User Identity Negotiation requests on the
// acceptor side.
//
// This package defines the core types for identity verification:
//
//   - Provider: Pluggable verification mechanism (password, JWT, Kerberos)
//   - Authenticator: Chains Providers and implements assoc.IdentityVerifier
//   - Result: Verification outcome with Identity and optional server response
//   - Identity: Protocol-neutral authenticated identity
//
// Sub-packages:
//   - password/: bcrypt user table for the username and username-password modes
//   - jwt/: HMAC-signed JSON Web Tokens
//   - kerberos/: AP-REQ verification against a keytab with hot-reload
//
// SAML assertions have no provider and always fail verification.
package auth
