package types

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString keeps passphrases and tokens out of logs and JSON dumps.
// String, MarshalJSON and LogValue all return a redacted placeholder.
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsEmpty reports whether no secret was configured.
func (s SecretString) IsEmpty() bool {
	return s == ""
}

// Truncate returns at most n leading characters of a token followed by an
// ellipsis. Used when a failing token must be identifiable in logs without
// exposing the whole value.
func Truncate(token string, n int) string {
	if n <= 0 {
		return "..."
	}
	if len(token) <= n {
		return token
	}
	return token[:n] + "..."
}
