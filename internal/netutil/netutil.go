package netutil

import "net"

// GetLANIP returns the first non-loopback IPv4 address, skipping
// Tailscale CGNAT (100.64.0.0/10) interfaces.
func GetLANIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() || ip.To4() == nil {
				continue
			}
			if ip[0] == 100 && ip[1] >= 64 && ip[1] <= 127 {
				continue
			}
			return ip.String()
		}
	}
	return ""
}
