package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndRemove(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRegistry(ctx, Policy{Interval: time.Hour}, nil, nil)
	m, err := reg.Register(newFakeSpark("a"), epoch)
	require.NoError(t, err)

	_, err = reg.Register(newFakeSpark("a"), epoch)
	assert.ErrorIs(t, err, ErrSparkExists)

	got, ok := reg.Get("a")
	require.True(t, ok)
	assert.Same(t, m, got)
	assert.Equal(t, 1, reg.Len())

	assert.True(t, reg.Remove("a"))
	assert.False(t, reg.Remove("a"))
	assert.True(t, m.Closed())
	assert.Equal(t, 0, reg.Len())

	select {
	case <-m.Done():
	default:
		t.Fatal("timer not cancelled")
	}
}

func TestRegistrySnapshots(t *testing.T) {
	reg := NewRegistry(context.Background(), Policy{Interval: time.Hour}, nil, nil)
	defer reg.Close()

	mb, err := reg.Register(newFakeSpark("b"), epoch)
	require.NoError(t, err)
	_, err = reg.Register(newFakeSpark("a"), epoch)
	require.NoError(t, err)
	require.NoError(t, mb.SetProtocolTag("happn_5"))

	snaps := reg.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "a", snaps[0].SparkID)
	assert.Equal(t, "unknown", snaps[0].Class)
	assert.Equal(t, "b", snaps[1].SparkID)
	assert.Equal(t, "modern", snaps[1].Class)
	assert.Equal(t, 5, snaps[1].Version)
	assert.True(t, snaps[1].Alive)
}

func TestRegistryDropsEndedSpark(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(context.Background(), Policy{Interval: 5 * time.Millisecond, GraceMode: GraceNone}, rec, nil)
	defer reg.Close()

	spark := newFakeSpark("dead")
	m, err := reg.Register(spark, time.Now())
	require.NoError(t, err)
	require.NoError(t, m.SetProtocolTag("happn_4"))

	assert.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true}, spark.Ends())
	assert.Equal(t, 1, rec.Count(EventEnd))
}

func TestRegistryDisabledPolicy(t *testing.T) {
	reg := NewRegistry(context.Background(), Policy{Interval: time.Millisecond, Disabled: true}, nil, nil)
	defer reg.Close()

	spark := newFakeSpark("idle")
	_, err := reg.Register(spark, time.Now())
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, spark.Writes())
	assert.Equal(t, 1, reg.Len())
}
