package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/sharekeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(logging.New(&buf, logging.Options{JSON: true}))

	err := n.Notify(context.Background(), Event{Kind: "offer", SecretID: "sec-1", From: "preview", To: "offer/pending"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"sharing event"`)
	assert.Contains(t, out, `"kind":"offer"`)
	assert.Contains(t, out, `"to":"offer/pending"`)
}

func TestLogNotifier_UsesContextLogger(t *testing.T) {
	var base, scoped bytes.Buffer
	n := NewLogNotifier(logging.New(&base, logging.Options{}))
	ctx := logging.IntoContext(context.Background(), logging.New(&scoped, logging.Options{}).With("request_id", "r-1"))

	require.NoError(t, n.Notify(ctx, Event{Kind: "revoke"}))

	assert.Empty(t, base.String())
	assert.Contains(t, scoped.String(), "request_id=r-1")
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Notify(context.Background(), Event{Kind: "a"}))

	r.Err = errors.New("down")
	assert.Error(t, r.Notify(context.Background(), Event{Kind: "b"}))

	events := r.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].Kind)
	assert.Equal(t, "b", events[1].Kind)
}
