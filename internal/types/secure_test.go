package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

const testSecret = "gpg-passphrase-12345"

func TestSecretString_String(t *testing.T) {
	s := SecretString(testSecret)

	if s.String() != redactedPlaceholder {
		t.Errorf("String() = %q, want %q", s.String(), redactedPlaceholder)
	}
	if got := fmt.Sprintf("key=%v", s); strings.Contains(got, testSecret) {
		t.Errorf("fmt leaked the raw secret: %s", got)
	}
}

func TestSecretString_MarshalJSON(t *testing.T) {
	payload := struct {
		Key SecretString `json:"key"`
	}{Key: SecretString(testSecret)}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("json.Marshal failed: %v", err)
	}
	if strings.Contains(string(data), testSecret) {
		t.Errorf("JSON leaked the raw secret: %s", data)
	}
}

func TestSecretString_Unmask(t *testing.T) {
	if got := SecretString(testSecret).Unmask(); got != testSecret {
		t.Errorf("Unmask() = %q, want %q", got, testSecret)
	}
	if !SecretString("").IsEmpty() {
		t.Error("empty secret should report IsEmpty")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdefghijklmnop", 10); got != "abcdefghij..." {
		t.Errorf("Truncate() = %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate() = %q", got)
	}
	if got := Truncate("anything", 0); got != "..." {
		t.Errorf("Truncate() = %q", got)
	}
}
