package network

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencanarias-go/subjectchain/dispatch"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	env := dispatch.Envelope{Type: dispatch.TagApproval, Payload: []byte(`{"ok":true}`)}

	require.NoError(t, writeFrame(&buf, env))
	got, err := readFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, env, got)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	header := []byte{0xff, 0xff, 0xff, 0xff}
	buf.Write(header)
	_, err := readFrame(&buf)
	require.Error(t, err)
	require.True(t, IsInvalidPayload(err))
}
