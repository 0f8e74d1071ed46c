package netutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPhysical(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want bool
	}{
		{"empty address", "", false},
		{"localhost name", "localhost", false},
		{"loopback", "127.0.0.1", false},
		{"loopback other octet", "127.1.2.3", false},
		{"link local", "169.254.10.20", false},
		{"docker bridge low edge", "172.16.0.1", false},
		{"docker bridge default", "172.17.0.2", false},
		{"docker bridge high edge", "172.31.255.254", false},
		{"not a bridge below range", "172.15.255.255", true},
		{"not a bridge above range", "172.32.0.1", true},
		{"home router subnet", "192.168.1.42", true},
		{"ten dot subnet", "10.0.0.7", true},
		{"public address", "8.8.8.8", true},
		{"garbage", "not-an-ip", false},
		{"ipv6 loopback", "::1", false},
		{"ipv6 link local", "fe80::1", false},
		{"ipv6 unique local", "fd00::1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPhysical(tt.addr))
		})
	}
}

func TestIsVirtualInterface(t *testing.T) {
	assert.True(t, isVirtualInterface("br-1a2b3c"))
	assert.True(t, isVirtualInterface("veth0a1b"))
	assert.True(t, isVirtualInterface("docker0"))
	assert.True(t, isVirtualInterface("virbr0"))
	assert.False(t, isVirtualInterface("eth0"))
	assert.False(t, isVirtualInterface("wlan0"))
}

func TestIsPreferredInterface(t *testing.T) {
	assert.True(t, isPreferredInterface("wlp3s0"))
	assert.True(t, isPreferredInterface("eth0"))
	assert.True(t, isPreferredInterface("enp0s31f6"))
	assert.False(t, isPreferredInterface("tun0"))
	assert.False(t, isPreferredInterface("virbr0"))
}
