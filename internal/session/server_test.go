package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdmitEnforcesPerIPCap(t *testing.T) {
	srv := NewServer(":0", nil)
	srv.PerIPConnectionCap = 2

	require.True(t, srv.admit("1.2.3.4"))
	require.True(t, srv.admit("1.2.3.4"))
	require.False(t, srv.admit("1.2.3.4"))

	srv.release("1.2.3.4")
	require.True(t, srv.admit("1.2.3.4"))
}

func TestAdmitUnlimitedWhenCapIsZero(t *testing.T) {
	srv := NewServer(":0", nil)
	srv.PerIPConnectionCap = 0

	for i := 0; i < 100; i++ {
		require.True(t, srv.admit("5.6.7.8"))
	}
}

func TestAdmitFloodDisabledAllowsEverything(t *testing.T) {
	srv := NewServer(":0", nil)
	srv.FloodProtection = false
	srv.FastConnectionLimit = 1

	for i := 0; i < 10; i++ {
		require.True(t, srv.admitFlood("9.9.9.9"))
	}
}

func TestAdmitFloodRejectsRapidReconnects(t *testing.T) {
	srv := NewServer(":0", nil)
	srv.FloodProtection = true
	srv.FastConnectionLimit = 3
	srv.FastConnectionTime = time.Hour // everything in this test counts as "fast"
	srv.NormalConnectionTime = 2 * time.Hour

	ip := "10.0.0.1"
	for i := 0; i < 4; i++ {
		require.True(t, srv.admitFlood(ip), "reconnect %d should still be under the limit", i)
	}
	require.False(t, srv.admitFlood(ip), "5th rapid reconnect should exceed FastConnectionLimit")
}

func TestAdmitFloodResetsAfterNormalConnectionTime(t *testing.T) {
	srv := NewServer(":0", nil)
	srv.FloodProtection = true
	srv.FastConnectionLimit = 1
	srv.FastConnectionTime = time.Hour
	srv.NormalConnectionTime = time.Hour

	ip := "10.0.0.2"
	require.True(t, srv.admitFlood(ip))
	require.True(t, srv.admitFlood(ip))
	require.False(t, srv.admitFlood(ip), "fast count should now exceed the limit of 1")

	// Back-date the tracked entry past NormalConnectionTime to simulate the
	// IP going quiet, which should reset its fast count.
	srv.floodMu.Lock()
	srv.flood[ip].lastConnect = time.Now().Add(-2 * time.Hour)
	srv.floodMu.Unlock()

	require.True(t, srv.admitFlood(ip), "a reconnect after NormalConnectionTime must reset the fast count")
}

func TestSweepFloodDropsStaleEntries(t *testing.T) {
	srv := NewServer(":0", nil)
	srv.FloodProtection = true
	srv.NormalConnectionTime = time.Minute

	srv.admitFlood("11.0.0.1")
	srv.floodMu.Lock()
	srv.flood["11.0.0.1"].lastConnect = time.Now().Add(-2 * time.Minute)
	srv.floodMu.Unlock()

	srv.admitFlood("11.0.0.2") // fresh, should survive the sweep

	srv.sweepFlood()

	srv.floodMu.Lock()
	defer srv.floodMu.Unlock()
	_, staleStillPresent := srv.flood["11.0.0.1"]
	_, freshStillPresent := srv.flood["11.0.0.2"]
	require.False(t, staleStillPresent)
	require.True(t, freshStillPresent)
}
