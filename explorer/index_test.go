package explorer

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"proxyvm/core"
)

func openMemoryIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open("sqlite:file::memory:?cache=shared")
	require.NoError(t, err)
	return ix
}

func TestRecordAndQueryHistory(t *testing.T) {
	ix := openMemoryIndex(t)
	proxy := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	implA := common.HexToAddress("0x0000000000000000000000000000000000000001")
	implB := common.HexToAddress("0x0000000000000000000000000000000000000002")

	require.NoError(t, ix.Record(core.Event{
		Type: core.EventDeploy, Instance: proxy, Implementation: implA, Time: time.Now(),
	}))
	require.NoError(t, ix.Record(core.Event{
		Type: core.EventUpgrade, Instance: proxy, Implementation: implB, CodeRef: "counter@2", OK: true, Time: time.Now(),
	}))
	require.NoError(t, ix.Record(core.Event{
		Type: core.EventUpgrade, Instance: proxy, Implementation: implA, OK: false, Reason: "post-upgrade call failed", Time: time.Now(),
	}))
	// Plain calls are not indexed.
	require.NoError(t, ix.Record(core.Event{Type: core.EventCall, Instance: proxy, Method: "setValue"}))

	history, err := ix.History(proxy)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.True(t, history[0].OK)
	require.Equal(t, "counter@2", history[0].CodeRef)
	require.False(t, history[1].OK)
	require.NotEmpty(t, history[1].Reason)

	deployments, err := ix.Deployments()
	require.NoError(t, err)
	require.Len(t, deployments, 1)
	require.Equal(t, proxy.Hex(), deployments[0].Address)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql:whatever")
	require.Error(t, err)
}
