// Command udhcpd-go is a DHCPv4 server daemon.
package main

func main() {
	Execute()
}
