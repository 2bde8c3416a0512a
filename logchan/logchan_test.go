package logchan

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/archiecobbs/pdel-go/pevent"
)

func reflectOfString(s string) reflect.Value { return reflect.ValueOf(s) }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	pc := pevent.NewContext(zap.NewNop())
	return NewEngine(pc)
}

func TestSeverityGate(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Configure(0, ChannelConfig{
		MinSeverity: Warning,
		History:     &HistoryConfig{Capacity: 16},
	}))

	ctx := WithChannel(context.Background(), 0)
	e.Log(ctx, Info, "should be dropped")
	e.Log(ctx, Err, "should land")

	entries, err := e.GetHistory(0, Debug, 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "should land", entries[0].Message)
}

func TestHistoryNewestFirst(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Configure(1, ChannelConfig{
		MinSeverity: Debug,
		History:     &HistoryConfig{Capacity: 16},
	}))
	ctx := WithChannel(context.Background(), 1)
	e.Log(ctx, Info, "first")
	e.Log(ctx, Info, "second")
	e.Log(ctx, Info, "third")

	entries, err := e.GetHistory(1, Debug, 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "third", entries[0].Message)
	require.Equal(t, "first", entries[2].Message)
}

func TestRepeatedMessageDefersSummary(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Configure(2, ChannelConfig{
		MinSeverity: Debug,
		History:     &HistoryConfig{Capacity: 16},
	}))
	ctx := WithChannel(context.Background(), 2)

	e.Log(ctx, Info, "same")
	e.Log(ctx, Info, "same")
	e.Log(ctx, Info, "same")

	entries, err := e.GetHistory(2, Debug, 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2) // synthesized pending + the first write
	require.Contains(t, entries[0].Message, "repeated 2 times")

	e.Log(ctx, Info, "different")
	entries, err = e.GetHistory(2, Debug, 0, 0, nil)
	require.NoError(t, err)
	require.Equal(t, "different", entries[0].Message)
	require.Contains(t, entries[1].Message, "repeated 2 times")
}

func TestUnconfiguredChannelIsNoop(t *testing.T) {
	e := newTestEngine(t)
	ctx := WithChannel(context.Background(), 5)
	e.Log(ctx, Emerg, "nobody home")
	_, err := e.GetHistory(5, Debug, 0, 0, nil)
	require.Error(t, err)
}

func TestGetHistoryWithoutHistoryConfiguredErrors(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Configure(3, ChannelConfig{MinSeverity: Debug, Null: true}))
	ctx := WithChannel(context.Background(), 3)
	e.Log(ctx, Info, "hi")
	_, err := e.GetHistory(3, Debug, 0, 0, nil)
	require.Error(t, err)
}

func TestApplyConfigRejectsWrongType(t *testing.T) {
	e := newTestEngine(t)
	err := e.ApplyConfig(0, reflectOfString("not a channel config"))
	require.Error(t, err)
}

func TestMaxAgeFilter(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Configure(4, ChannelConfig{MinSeverity: Debug, History: &HistoryConfig{Capacity: 16}}))
	ctx := WithChannel(context.Background(), 4)
	e.Log(ctx, Info, "old enough")

	entries, err := e.GetHistory(4, Debug, 0, time.Nanosecond, nil)
	require.NoError(t, err)
	require.Empty(t, entries)
}
