package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udhcpd-go/udhcpd/internal/codec"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "udhcpd.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestApplyLinesOverridesDefaults(t *testing.T) {
	cfg := defaults()
	body := "start 10.0.0.10\nend 10.0.0.20\nmax_leases 10\n# a comment\n\nremaining no\n"
	require.NoError(t, applyLines(cfg, stringsReader(body)))

	assert.True(t, cfg.PoolStart.Equal(ipv4(10, 0, 0, 10)))
	assert.True(t, cfg.PoolEnd.Equal(ipv4(10, 0, 0, 20)))
	assert.Equal(t, 10, cfg.MaxLeases)
	assert.False(t, cfg.Remaining)
}

func TestApplyLinesRevertsToDefaultOnParseFailure(t *testing.T) {
	cfg := defaults()
	body := "max_leases notanumber\n"
	require.NoError(t, applyLines(cfg, stringsReader(body)))
	assert.Equal(t, 254, cfg.MaxLeases, "bad line should revert to the built-in default")
}

func TestApplyLinesParsesOptionDirective(t *testing.T) {
	cfg := defaults()
	body := "option dns 8.8.8.8,8.8.4.4\noption subnet 255.255.255.0\n"
	require.NoError(t, applyLines(cfg, stringsReader(body)))

	dns := cfg.Options.Get(codec.OptDomainNameServer)
	assert.Equal(t, []byte{8, 8, 8, 8, 8, 8, 4, 4}, dns)

	mask := cfg.Options.Get(codec.OptSubnetMask)
	assert.Equal(t, []byte{255, 255, 255, 0}, mask)
}

func TestValidateRejectsInvertedPool(t *testing.T) {
	cfg := defaults()
	cfg.PoolStart = ipv4(10, 0, 0, 50)
	cfg.PoolEnd = ipv4(10, 0, 0, 10)

	errs := Validate(cfg)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs.Error(), "start/end")
}

func TestValidateCollectsMultipleProblems(t *testing.T) {
	cfg := defaults()
	cfg.Interface = ""
	cfg.MaxLeases = 0
	cfg.LeaseFile = ""

	errs := Validate(cfg)
	assert.GreaterOrEqual(t, len(errs), 3)
}

func TestLoadAppliesDefaultsThenFile(t *testing.T) {
	path := writeTempConfig(t, "start 172.16.0.10\nend 172.16.0.20\ninterface lo\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.PoolStart.Equal(ipv4(172, 16, 0, 10)))
	assert.Equal(t, 254, cfg.MaxLeases, "unset keys keep their default")
}

func TestHotApplyHotRoundTrips(t *testing.T) {
	cfg := defaults()
	cfg.Options.Attach(codec.OptSubnetMask, []byte{255, 255, 255, 0})
	h := cfg.Hot()

	fresh := defaults()
	fresh.ApplyHot(h)

	assert.True(t, fresh.PoolStart.Equal(cfg.PoolStart))
	assert.Equal(t, cfg.Options.Get(codec.OptSubnetMask), fresh.Options.Get(codec.OptSubnetMask))
}
