package netutil

import (
	"net"
	"strings"
)

// IsPhysical reports whether addr looks like a real LAN address a peer can
// be reached on. It rejects loopback, link-local auto-configuration
// (169.254.0.0/16), and the 172.16.0.0/12 block, which on the machines this
// runs on is almost always a docker or VM bridge network rather than the
// home LAN. Without this filter discovery would mistake the local machine's
// own bridges for distinct peers.
func IsPhysical(addr string) bool {
	if addr == "" || addr == "localhost" {
		return false
	}

	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return false
	}

	if ip4 := ip.To4(); ip4 != nil {
		if ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31 {
			return false
		}
	}

	return true
}

// AccessibleIP returns the local address other devices on the LAN can reach
// this machine on, preferring wireless and ethernet interfaces over
// anything else. Returns "" if no candidate is found.
func AccessibleIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	if ip := findLocalIP(interfaces, true); ip != "" {
		return ip
	}
	return findLocalIP(interfaces, false)
}

func findLocalIP(interfaces []net.Interface, preferredOnly bool) string {
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if isVirtualInterface(iface.Name) {
			continue
		}
		if preferredOnly && !isPreferredInterface(iface.Name) {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			ipv4 := ipnet.IP.To4()
			if ipv4 == nil {
				continue
			}
			if ipStr := ipv4.String(); IsPhysical(ipStr) {
				return ipStr
			}
		}
	}

	return ""
}

func isVirtualInterface(name string) bool {
	virtualPrefixes := []string{"br-", "veth", "docker", "virbr", "lxcbr", "lxdbr", "cni", "flannel"}

	for _, prefix := range virtualPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}

	return false
}

func isPreferredInterface(name string) bool {
	preferredPrefixes := []string{"wl", "eth", "en", "wlan", "wifi"}

	for _, prefix := range preferredPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}

	return false
}
