package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/log"

	"github.com/udhcpd-go/udhcpd/internal/codec"
)

// handlerFunc parses value and stores it into cfg; it reports false on any
// parse failure, in which case the caller re-runs the handler against the
// keyword's default to revert the field.
type handlerFunc func(cfg *ServerConfig, value string) bool

type keyword struct {
	name    string
	def     string
	handler handlerFunc
}

var keywordTable = []keyword{
	{"start", "192.168.0.20", func(c *ServerConfig, v string) bool { return readIP(v, &c.PoolStart) }},
	{"end", "192.168.0.254", func(c *ServerConfig, v string) bool { return readIP(v, &c.PoolEnd) }},
	{"interface", "eth0", func(c *ServerConfig, v string) bool { c.Interface = v; return true }},
	{"max_leases", "254", func(c *ServerConfig, v string) bool { return readInt(v, &c.MaxLeases) }},
	{"remaining", "yes", func(c *ServerConfig, v string) bool { return readYN(v, &c.Remaining) }},
	{"auto_time", "7200", func(c *ServerConfig, v string) bool { return readDuration(v, &c.AutoTime) }},
	{"decline_time", "3600", func(c *ServerConfig, v string) bool { return readDuration(v, &c.DeclineTime) }},
	{"conflict_time", "3600", func(c *ServerConfig, v string) bool { return readDuration(v, &c.ConflictTime) }},
	{"offer_time", "60", func(c *ServerConfig, v string) bool { return readDuration(v, &c.OfferTime) }},
	{"min_lease", "60", func(c *ServerConfig, v string) bool { return readDuration(v, &c.MinLease) }},
	{"lease_file", "/var/lib/misc/udhcpd.leases", func(c *ServerConfig, v string) bool { c.LeaseFile = v; return true }},
	{"pidfile", "/var/run/udhcpd.pid", func(c *ServerConfig, v string) bool { c.PIDFile = v; return true }},
	{"notify_file", "", func(c *ServerConfig, v string) bool { c.NotifyFile = v; return true }},
	{"siaddr", "0.0.0.0", func(c *ServerConfig, v string) bool { return readIP(v, &c.SIAddr) }},
	{"sname", "", func(c *ServerConfig, v string) bool { c.SName = v; return true }},
	{"boot_file", "", func(c *ServerConfig, v string) bool { c.BootFile = v; return true }},
}

func readIP(v string, dst *net.IP) bool {
	ip := net.ParseIP(v)
	if ip == nil {
		if host, err := net.LookupHost(v); err == nil && len(host) > 0 {
			ip = net.ParseIP(host[0])
		}
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	*dst = ip4
	return true
}

func readInt(v string, dst *int) bool {
	n, err := strconv.Atoi(v)
	if err != nil {
		return false
	}
	*dst = n
	return true
}

func readYN(v string, dst *bool) bool {
	switch strings.ToLower(v) {
	case "yes":
		*dst = true
	case "no":
		*dst = false
	default:
		return false
	}
	return true
}

func readDuration(v string, dst *time.Duration) bool {
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return false
	}
	*dst = time.Duration(n) * time.Second
	return true
}

// readOptionLine parses an `option <name> <value>[,<value>...]` line,
// resolving <name> against codec.Registry and encoding each value per its
// OptionType, attaching the result to cfg.Options.
func readOptionLine(cfg *ServerConfig, line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return false
	}
	name, rest := fields[0], fields[1:]

	code, schema, ok := codec.LookupByName(name)
	if !ok {
		return false
	}

	values := strings.Split(strings.Join(rest, " "), ",")
	var encoded []byte
	for i, raw := range values {
		raw = strings.TrimSpace(raw)
		if n := codec.TypeLength(schema.Type); n > 0 && len(encoded)+n > codec.MaxOptionLen {
			log.Error("config: option %s: value list exceeds %d bytes, dropping the rest", name, codec.MaxOptionLen)
			break
		}
		v, err := encodeOptionValue(schema.Type, raw)
		if err != nil {
			log.Error("config: option %s: %s", name, err)
			return false
		}
		encoded = append(encoded, v...)
		if !schema.Repeatable && i == 0 {
			break
		}
	}

	cfg.Options.Attach(code, encoded)
	return true
}

func encodeOptionValue(t codec.OptionType, raw string) ([]byte, error) {
	switch t {
	case codec.TypeIP:
		ip := net.ParseIP(raw).To4()
		if ip == nil {
			return nil, fmt.Errorf("%q is not an IPv4 address", raw)
		}
		return codec.EncodeIP(ip)
	case codec.TypeIPPair:
		parts := strings.FieldsFunc(raw, func(r rune) bool { return r == '/' || r == '-' })
		if len(parts) != 2 {
			return nil, fmt.Errorf("%q is not a two-address IP pair", raw)
		}
		a, b := net.ParseIP(parts[0]).To4(), net.ParseIP(parts[1]).To4()
		if a == nil || b == nil {
			return nil, fmt.Errorf("%q contains an invalid IPv4 address", raw)
		}
		return codec.EncodeIPPair(a, b)
	case codec.TypeString:
		return codec.EncodeString(raw), nil
	case codec.TypeBoolean:
		switch strings.ToLower(raw) {
		case "yes":
			return codec.EncodeBoolean(true), nil
		case "no":
			return codec.EncodeBoolean(false), nil
		}
		return nil, fmt.Errorf("%q is not yes/no", raw)
	case codec.TypeU8:
		n, err := strconv.ParseUint(raw, 0, 8)
		if err != nil {
			return nil, err
		}
		return codec.EncodeU8(uint8(n)), nil
	case codec.TypeU16:
		n, err := strconv.ParseUint(raw, 0, 16)
		if err != nil {
			return nil, err
		}
		return codec.EncodeU16(uint16(n)), nil
	case codec.TypeS16:
		n, err := strconv.ParseInt(raw, 0, 16)
		if err != nil {
			return nil, err
		}
		return codec.EncodeS16(int16(n)), nil
	case codec.TypeU32:
		n, err := strconv.ParseUint(raw, 0, 32)
		if err != nil {
			return nil, err
		}
		return codec.EncodeU32(uint32(n)), nil
	case codec.TypeS32:
		n, err := strconv.ParseInt(raw, 0, 32)
		if err != nil {
			return nil, err
		}
		return codec.EncodeS32(int32(n)), nil
	default:
		return nil, fmt.Errorf("unsupported option type %v", t)
	}
}
