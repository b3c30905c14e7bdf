package cloud

import (
	"strings"
	"testing"
)

func TestGenerateCloudConfig(t *testing.T) {
	userData, err := GenerateCloudConfig("chef", "ssh-rsa AAAA chef@kiln")
	if err != nil {
		t.Fatalf("Failed to generate cloud-config: %v", err)
	}

	if !strings.HasPrefix(userData, "#cloud-config") {
		t.Error("Expected cloud-config header")
	}
	if !strings.Contains(userData, "name: chef") {
		t.Error("Expected username in cloud-config")
	}
	if !strings.Contains(userData, "ssh-rsa AAAA chef@kiln") {
		t.Error("Expected public key in cloud-config")
	}
}
