package auth

// Identity represents an authenticated identity in a protocol-neutral form.
type Identity struct {
	// Username is the user name, if the mechanism carries one.
	Username string

	// Principal is the Kerberos principal name (e.g., "alice@EXAMPLE.COM").
	// Empty for non-Kerberos authentication.
	Principal string

	// Attributes holds extensible mechanism-specific metadata.
	// Examples: "issuer" -> "dicomul", "realm" -> "EXAMPLE.COM"
	Attributes map[string]string
}

// Name returns the principal when set, the username otherwise.
func (i Identity) Name() string {
	if i.Principal != "" {
		return i.Principal
	}
	return i.Username
}
