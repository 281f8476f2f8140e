package config

import (
	"net"
	"strings"
)

func ipv4(a, b, c, d byte) net.IP {
	return net.IPv4(a, b, c, d).To4()
}

func stringsReader(s string) *strings.Reader {
	return strings.NewReader(s)
}
