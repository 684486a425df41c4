package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKnownVariants(t *testing.T) {
	t.Run("link code", func(t *testing.T) {
		ev, err := Decode([]byte(`{"eventType":"linkCode","code":"ABC-123"}`))
		require.NoError(t, err)
		lc, ok := ev.(*LinkCode)
		require.True(t, ok, "got %T", ev)
		assert.Equal(t, "ABC-123", lc.Code)
		assert.Equal(t, KindLinkCode, ev.Kind())
	})

	t.Run("qr code", func(t *testing.T) {
		ev, err := Decode([]byte(`{"eventType":"qrCode","code":"2@abc,def"}`))
		require.NoError(t, err)
		qr, ok := ev.(*QRCode)
		require.True(t, ok, "got %T", ev)
		assert.Equal(t, "2@abc,def", qr.Code)
	})

	t.Run("method return", func(t *testing.T) {
		ev, err := Decode([]byte(`{"eventType":"methodReturn","callid":"X","return":{"subject":"Team"}}`))
		require.NoError(t, err)
		mr, ok := ev.(*MethodReturn)
		require.True(t, ok, "got %T", ev)
		assert.Equal(t, "X", mr.RequestID)
		assert.JSONEq(t, `{"subject":"Team"}`, string(mr.Payload))
		assert.Empty(t, mr.Error)

		id, ok := RequestID(ev)
		assert.True(t, ok)
		assert.Equal(t, "X", id)
	})

	t.Run("method return without payload", func(t *testing.T) {
		ev, err := Decode([]byte(`{"eventType":"methodReturn","callid":"Y","error":"not an admin"}`))
		require.NoError(t, err)
		mr := ev.(*MethodReturn)
		assert.Equal(t, "null", string(mr.Payload))
		assert.Equal(t, "not an admin", mr.Error)
	})

	t.Run("media saved", func(t *testing.T) {
		ev, err := Decode([]byte(`{"eventType":"mediaSaved","kind":"images","path":"/m/images/a.jpg"}`))
		require.NoError(t, err)
		ms := ev.(*MediaSaved)
		assert.Equal(t, "images", ms.MediaKind)
		assert.Equal(t, "/m/images/a.jpg", ms.Path)
	})
}

func TestDecodeFallsBackToGeneric(t *testing.T) {
	t.Run("invalid utf8", func(t *testing.T) {
		raw := []byte{'n', 'o', 't', 0xff, 0xfe, '-', 'j', 's', 'o', 'n'}
		ev, err := Decode(raw)
		require.NotNil(t, ev)
		g, ok := ev.(*Generic)
		require.True(t, ok)
		assert.Equal(t, raw, g.Raw(), "raw bytes are kept verbatim")
		assert.Nil(t, g.Fields)

		var anomaly *DecodeAnomaly
		require.ErrorAs(t, err, &anomaly)
		assert.Equal(t, StageUTF8, anomaly.Stage)
	})

	t.Run("not json", func(t *testing.T) {
		ev, err := Decode([]byte("not-json-or-utf8"))
		g, ok := ev.(*Generic)
		require.True(t, ok)
		assert.Equal(t, "not-json-or-utf8", string(g.Raw()))

		var anomaly *DecodeAnomaly
		require.ErrorAs(t, err, &anomaly)
		assert.Equal(t, StageParse, anomaly.Stage)
	})

	t.Run("json but not an object", func(t *testing.T) {
		for _, raw := range []string{`null`, `[1,2]`, `"str"`} {
			ev, err := Decode([]byte(raw))
			assert.IsType(t, &Generic{}, ev, raw)
			var anomaly *DecodeAnomaly
			require.ErrorAs(t, err, &anomaly, raw)
			assert.Equal(t, StageParse, anomaly.Stage, raw)
		}
	})

	t.Run("missing discriminator", func(t *testing.T) {
		ev, err := Decode([]byte(`{"code":"ABC"}`))
		g := ev.(*Generic)
		assert.Equal(t, "ABC", g.Fields["code"])
		assert.Empty(t, g.EventType)
		assert.Equal(t, "generic", Type(ev))

		var anomaly *DecodeAnomaly
		require.ErrorAs(t, err, &anomaly)
		assert.Equal(t, StageDiscriminator, anomaly.Stage)
	})

	t.Run("missing mandatory field", func(t *testing.T) {
		ev, err := Decode([]byte(`{"eventType":"methodReturn","return":1}`))
		g := ev.(*Generic)
		assert.Equal(t, "methodReturn", g.EventType)

		var anomaly *DecodeAnomaly
		require.ErrorAs(t, err, &anomaly)
		assert.Equal(t, StageFields, anomaly.Stage)
		assert.Equal(t, FieldCallID, anomaly.Field)
		assert.Contains(t, err.Error(), "methodReturn.callid")
	})

	t.Run("unknown discriminator", func(t *testing.T) {
		ev, err := Decode([]byte(`{"eventType":"message","id":"3EB0","from":"123@s.whatsapp.net"}`))
		require.NoError(t, err, "unknown types are not anomalies")
		g := ev.(*Generic)
		assert.Equal(t, "message", g.EventType)
		assert.Equal(t, "message", Type(ev))
		assert.Equal(t, "3EB0", g.Fields["id"])

		_, ok := RequestID(ev)
		assert.False(t, ok, "id-like fields on other events are not correlation ids")
	})
}

func TestDecodeCopiesInput(t *testing.T) {
	raw := []byte(`{"eventType":"linkCode","code":"ABC-123"}`)
	ev, err := Decode(raw)
	require.NoError(t, err)
	raw[0] = 'X'
	assert.Equal(t, byte('{'), ev.Raw()[0])
}

func TestEncodeRoundTripsThroughDecode(t *testing.T) {
	raw, err := EncodeMethodReturn("req-1", map[string]string{"subject": "Team"}, "")
	require.NoError(t, err)
	ev, err := Decode(raw)
	require.NoError(t, err)
	mr := ev.(*MethodReturn)
	assert.Equal(t, "req-1", mr.RequestID)

	var got map[string]string
	require.NoError(t, json.Unmarshal(mr.Payload, &got))
	assert.Equal(t, "Team", got["subject"])

	raw, err = EncodeMediaSaved("videos", "/m/videos/v.mp4")
	require.NoError(t, err)
	ev, err = Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, KindMediaSaved, ev.Kind())

	_, err = Encode("", nil)
	assert.Error(t, err)
}
