package config

import (
	"bufio"
	"io"
	"net"
	"os"
	"strings"

	"github.com/AdguardTeam/golibs/log"
	"github.com/joomcode/errorx"

	"github.com/udhcpd-go/udhcpd/internal/codec"
)

// Load parses path into a ServerConfig, seeding every field with its default
// first (so an empty or partial file still yields a usable configuration),
// then applying each recognized line. A line whose handler fails to parse
// its value is logged and the field is reverted to its default. Load itself
// fails only if the file cannot be opened or read, or if the configured
// interface cannot be resolved to an index and an IPv4 address.
func Load(path string) (*ServerConfig, error) {
	cfg := defaults()
	for _, kw := range keywordTable {
		if kw.def != "" {
			kw.handler(cfg, kw.def)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errorx.Decorate(err, "config: unable to open config file %s", path)
	}
	defer f.Close()

	if err := applyLines(cfg, f); err != nil {
		return nil, err
	}

	// An `option lease <seconds>` line overrides the default lease duration.
	if v := cfg.Options.Get(codec.OptLeaseTime); len(v) == 4 {
		if n, err := codec.DecodeU32(v); err == nil {
			cfg.LeaseSeconds = int64(n)
		}
	}

	cfg.IfIndex, cfg.ServerMAC, cfg.ServerIP, err = resolveInterface(cfg.Interface)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolveInterface looks up the configured interface's index, hardware
// address, and first usable IPv4 address (the server's own identity on the
// wire).
func resolveInterface(name string) (int, net.HardwareAddr, net.IP, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return 0, nil, nil, errorx.Decorate(err, "config: interface %s not found", name)
	}

	addrs, err := ifi.Addrs()
	if err != nil {
		return 0, nil, nil, errorx.Decorate(err, "config: reading addresses of %s", name)
	}

	var serverIP net.IP
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			serverIP = ip4
			break
		}
	}
	if serverIP == nil {
		return 0, nil, nil, errorx.IllegalState.New("config: interface %s has no IPv4 address", name)
	}

	return ifi.Index, ifi.HardwareAddr, serverIP, nil
}

func applyLines(cfg *ServerConfig, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		raw := scanner.Text()
		line := raw
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		token, value := splitKeyValue(line)
		if token == "" {
			continue
		}

		if strings.EqualFold(token, "option") || strings.EqualFold(token, "opt") {
			if !readOptionLine(cfg, value) {
				log.Error("config: unable to parse %q", raw)
			}
			continue
		}

		applyKeyword(cfg, token, value, raw)
	}
	return scanner.Err()
}

func applyKeyword(cfg *ServerConfig, token, value, raw string) {
	for _, kw := range keywordTable {
		if !strings.EqualFold(token, kw.name) {
			continue
		}
		if !kw.handler(cfg, value) {
			log.Error("config: unable to parse %q, reverting %s to default", raw, kw.name)
			kw.handler(cfg, kw.def)
		}
		return
	}
	log.Debug("config: unknown keyword %q, ignoring", token)
}

// splitKeyValue splits a trimmed config line on the first run of
// whitespace or '='.
func splitKeyValue(line string) (token, value string) {
	i := strings.IndexAny(line, " \t=")
	if i < 0 {
		return line, ""
	}
	token = line[:i]
	value = strings.TrimLeft(line[i:], " \t=")
	return token, strings.TrimSpace(value)
}
