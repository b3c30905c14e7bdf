package cloud

import (
	"testing"

	"google.golang.org/api/compute/v1"
)

func TestMachineTypeDescriptor(t *testing.T) {
	got := machineTypeDescriptor("us-central1-a", "n1-standard-1")
	want := "zones/us-central1-a/machineTypes/n1-standard-1"
	if got != want {
		t.Errorf("machineTypeDescriptor() = %v, want %v", got, want)
	}
}

func TestDiskTypeDescriptor(t *testing.T) {
	got := diskTypeDescriptor("europe-west1-a", "pd-standard")
	want := "zones/europe-west1-a/diskTypes/pd-standard"
	if got != want {
		t.Errorf("diskTypeDescriptor() = %v, want %v", got, want)
	}
}

func TestNetworkDescriptor(t *testing.T) {
	tests := []struct {
		network string
		want    string
	}{
		{"", "global/networks/default"},
		{"default", "global/networks/default"},
		{"kiln-net", "global/networks/kiln-net"},
		{"projects/shared-vpc/global/networks/lab", "projects/shared-vpc/global/networks/lab"},
	}
	for _, tt := range tests {
		if got := networkDescriptor(tt.network); got != tt.want {
			t.Errorf("networkDescriptor(%q) = %v, want %v", tt.network, got, tt.want)
		}
	}
}

func TestImageDescriptor(t *testing.T) {
	tests := []struct {
		image string
		want  string
	}{
		{"", ""},
		{"debian-12-base", "global/images/debian-12-base"},
		{"projects/debian-cloud/global/images/family/debian-12", "projects/debian-cloud/global/images/family/debian-12"},
	}
	for _, tt := range tests {
		if got := imageDescriptor(tt.image); got != tt.want {
			t.Errorf("imageDescriptor(%q) = %v, want %v", tt.image, got, tt.want)
		}
	}
}

func TestInstanceMetadata(t *testing.T) {
	md := instanceMetadata(ServerSpec{
		Username:     "chef",
		SSHPublicKey: "ssh-rsa AAAA chef@kiln",
		Metadata:     map[string]string{"team": "qa"},
	})
	if md == nil {
		t.Fatal("Expected metadata, got nil")
	}

	items := map[string]string{}
	for _, item := range md.Items {
		if item.Value != nil {
			items[item.Key] = *item.Value
		}
	}

	if items["ssh-keys"] != "chef:ssh-rsa AAAA chef@kiln" {
		t.Errorf("Unexpected ssh-keys metadata %q", items["ssh-keys"])
	}
	if items["team"] != "qa" {
		t.Errorf("Expected user metadata to be carried, got %v", items)
	}
}

func TestInstanceMetadataEmpty(t *testing.T) {
	if md := instanceMetadata(ServerSpec{Username: "chef"}); md != nil {
		t.Errorf("Expected nil metadata without keys, got %+v", md)
	}
}

func TestServerFromInstance(t *testing.T) {
	instance := &compute.Instance{
		Name:   "kiln-default-ubuntu",
		Zone:   "https://www.googleapis.com/compute/v1/projects/example/zones/us-central1-b",
		Status: "RUNNING",
		NetworkInterfaces: []*compute.NetworkInterface{
			{
				AccessConfigs: []*compute.AccessConfig{
					{Type: "ONE_TO_ONE_NAT", NatIP: "203.0.113.7"},
				},
				Ipv6AccessConfigs: []*compute.AccessConfig{
					{ExternalIpv6: "2001:db8::7"},
				},
			},
		},
	}

	srv := serverFromInstance(instance)

	if srv.ID != "kiln-default-ubuntu" {
		t.Errorf("Expected ID to be the instance name, got %v", srv.ID)
	}
	if srv.Zone != "us-central1-b" {
		t.Errorf("Expected bare zone name, got %v", srv.Zone)
	}
	if srv.Status != "RUNNING" {
		t.Errorf("Expected RUNNING status, got %v", srv.Status)
	}
	if len(srv.Addresses) != 2 || srv.Addresses[0] != "203.0.113.7" || srv.Addresses[1] != "2001:db8::7" {
		t.Errorf("Unexpected addresses %v", srv.Addresses)
	}
}
