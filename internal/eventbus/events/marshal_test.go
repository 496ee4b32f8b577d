package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zboyco/sparkbeat/pkg/heartbeat"
)

func TestMarshalHeartbeat(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	typ, data, err := MarshalHeartbeat(heartbeat.Event{
		SparkID: "s1",
		Kind:    heartbeat.EventUnresponsive,
		At:      at,
		Class:   heartbeat.ClassLegacy,
		Skipped: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, EventTypeUnresponsive, typ)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, EventTypeUnresponsive, ev.Type)
	assert.Equal(t, "s1", ev.SparkID)
	_, err = uuid.Parse(ev.ID)
	assert.NoError(t, err)

	var body HeartbeatEventData
	require.NoError(t, json.Unmarshal(ev.Data, &body))
	assert.Equal(t, HeartbeatEventData{Class: "legacy", Skipped: 2, At: "2024-05-01T12:00:00Z"}, body)
}

func TestMarshalHeartbeatUnknownKind(t *testing.T) {
	_, _, err := MarshalHeartbeat(heartbeat.Event{Kind: "bogus"})
	assert.Error(t, err)
}

func TestTypeOf(t *testing.T) {
	tests := map[heartbeat.EventKind]EventType{
		heartbeat.EventHeartbeat:    EventTypeHeartbeat,
		heartbeat.EventUnresponsive: EventTypeUnresponsive,
		heartbeat.EventOutgoingPing: EventTypeOutgoingPing,
		heartbeat.EventEnd:          EventTypeEnd,
	}
	for kind, want := range tests {
		got, ok := TypeOf(kind)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestMarshalConfigured(t *testing.T) {
	typ, data, err := MarshalConfigured("s2", "happn_4", heartbeat.Classification{Class: heartbeat.ClassModern, Version: 4})
	require.NoError(t, err)
	assert.Equal(t, EventTypeConfigured, typ)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	var body ConfiguredEventData
	require.NoError(t, json.Unmarshal(ev.Data, &body))
	assert.Equal(t, ConfiguredEventData{ProtocolTag: "happn_4", Class: "modern", Version: 4}, body)
}
