package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskUsage(t *testing.T) {
	out := "Filesystem      Size  Used Avail Use% Mounted on\n/dev/sda1        50G   20G   28G  42% /\n/dev/sda2       100G   10G   85G  11% /home\n"
	lines := DiskUsage(out)
	require.Len(t, lines, 2)
	assert.Equal(t, "/dev/sda1", lines[0].Filesystem)
	assert.Equal(t, 42, lines[0].UsePercent)
	assert.Equal(t, "/", lines[0].MountedOn)
	assert.Equal(t, "/home", lines[1].MountedOn)
}

func TestMemory(t *testing.T) {
	out := "              total        used        free      shared  buff/cache   available\nMem:            15Gi       3.2Gi        10Gi       200Mi       1.5Gi        11Gi\nSwap:            2Gi          0B         2Gi\n"
	m, ok := Memory(out)
	require.True(t, ok)
	assert.Equal(t, "15Gi", m.Total)
	assert.Equal(t, "11Gi", m.Available)
}

func TestTopMemoryProcs(t *testing.T) {
	out := "USER   PID %CPU %MEM    VSZ   RSS TTY      STAT START   TIME COMMAND\n" +
		"alice  101  0.0 12.0 123456 65432 ?        Sl   09:00   0:05 firefox\n" +
		"alice  102  0.0  8.0 123456 65432 ?        Sl   09:01   0:02 code\n"
	procs := TopMemoryProcs(out, 10)
	require.Len(t, procs, 2)
	assert.Equal(t, "firefox", procs[0].Command)
	assert.Equal(t, "12.0", procs[0].MemPct)
}

func TestTopMemoryProcsRespectsLimit(t *testing.T) {
	out := "USER   PID %CPU %MEM    VSZ   RSS TTY      STAT START   TIME COMMAND\n" +
		"a 1 0 1 1 1 ? S 1 1 proc1\n" +
		"a 2 0 1 1 1 ? S 1 1 proc2\n" +
		"a 3 0 1 1 1 ? S 1 1 proc3\n"
	procs := TopMemoryProcs(out, 2)
	assert.Len(t, procs, 2)
}

func TestFailedServicesEmpty(t *testing.T) {
	out := "0 loaded units listed.\n"
	assert.Empty(t, FailedServices(out))
}

func TestFailedServicesParsesRows(t *testing.T) {
	out := "UNIT              LOAD   ACTIVE SUB    DESCRIPTION\n" +
		"● cups.service    loaded failed failed CUPS Scheduler\n" +
		"1 loaded units listed.\n"
	units := FailedServices(out)
	require.Len(t, units, 1)
	assert.Equal(t, "cups.service", units[0].Unit)
	assert.Equal(t, "failed", units[0].Active)
}

func TestLSCPU(t *testing.T) {
	out := "Architecture:        x86_64\nModel name:          AMD Ryzen 9\nCPU(s):              16\n"
	info := LSCPU(out)
	assert.Equal(t, "AMD Ryzen 9", info.ModelName)
	assert.Equal(t, "16", info.CPUs)
}

func TestIPAddrSkipsLoopback(t *testing.T) {
	out := "1: lo: <LOOPBACK,UP>\n    inet 127.0.0.1/8 scope host lo\n2: eth0: <BROADCAST,UP>\n    inet 192.168.1.20/24 brd 192.168.1.255 scope global eth0\n"
	addrs := IPAddr(out)
	require.Len(t, addrs, 1)
	assert.Equal(t, "192.168.1.20/24", addrs[0])
}

func TestBlockDevices(t *testing.T) {
	out := "NAME   SIZE TYPE MOUNTPOINTS\nsda    500G disk\n├─sda1 512M part /boot\n└─sda2 499G part /\n"
	devs := BlockDevices(out)
	require.Len(t, devs, 3)
	assert.Equal(t, "sda1", devs[1].Name)
	assert.Equal(t, "/boot", devs[1].Mount)
}
