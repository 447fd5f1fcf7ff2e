package tap

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/l2vpn/internal/wire"
)

var (
	testMAC = wire.MAC{0x02, 0x4c, 0x32, 0x0a, 0x0b, 0x0c}
	testIP  = netip.MustParseAddr("10.0.0.7")
)

func TestConfigureRunsIPCommands(t *testing.T) {
	var got []string
	run := func(_ context.Context, name string, args ...string) ([]byte, error) {
		got = append(got, name+" "+strings.Join(args, " "))
		return nil, nil
	}

	require.NoError(t, Configure(context.Background(), run, "tap0", testMAC, testIP))
	assert.Equal(t, []string{
		"ip link set dev tap0 address 02:4c:32:0a:0b:0c",
		"ip addr add 10.0.0.7/24 dev tap0",
		"ip link set tap0 up",
	}, got)
}

func TestConfigureStopsOnFailure(t *testing.T) {
	calls := 0
	run := func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls++
		if args[0] == "addr" {
			return []byte("RTNETLINK answers: File exists\n"), errors.New("exit status 2")
		}
		return nil, nil
	}

	err := Configure(context.Background(), run, "tap0", testMAC, testIP)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ip addr add 10.0.0.7/24 dev tap0")
	assert.Contains(t, err.Error(), "File exists")
	assert.Equal(t, 2, calls)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{Name: "tap0", MAC: testMAC, IP: testIP}.validate())
	assert.Error(t, Config{Name: "", IP: testIP}.validate())
	assert.Error(t, Config{Name: "a-very-long-interface-name", IP: testIP}.validate())
	assert.Error(t, Config{Name: "tap0", IP: netip.MustParseAddr("::1")}.validate())
	assert.Error(t, Config{Name: "tap0"}.validate())
}
