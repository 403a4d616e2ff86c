package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []Event
	err    error
}

func (r *recorder) Notify(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestMultiDeliversToEveryChannel(t *testing.T) {
	t.Parallel()
	a, b := &recorder{}, &recorder{}
	m := Multi{a, b}

	ev := Event{Kind: KindTrade, Title: "Entry filled: GC"}
	require.NoError(t, m.Notify(context.Background(), ev))
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestMultiReportsFirstErrorButKeepsGoing(t *testing.T) {
	t.Parallel()
	bad := &recorder{err: fmt.Errorf("channel down")}
	worse := &recorder{err: fmt.Errorf("also down")}
	ok := &recorder{}
	m := Multi{bad, worse, ok}

	err := m.Notify(context.Background(), Event{Kind: KindError, Title: "x"})
	assert.EqualError(t, err, "channel down")
	assert.Len(t, ok.events, 1)
	assert.Len(t, worse.events, 1)
}

func TestLogNotifier(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := Log{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	err := l.Notify(context.Background(), Event{
		Kind:  KindRisk,
		Title: "Pyramid rejected: GC",
		Body:  "per_symbol ceiling reached",
		Data:  map[string]string{"position_id": "p1"},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Pyramid rejected: GC")
	assert.Contains(t, out, "kind=risk")
	assert.Contains(t, out, "position_id=p1")
}

func TestFormatStableOrder(t *testing.T) {
	t.Parallel()
	ev := Event{
		Kind:  KindSignal,
		Title: "Entry approved: GC",
		Body:  "System 1 LONG at 2412.5000",
		Data: map[string]string{
			"position_id": "p1",
			"limit":       "per_symbol",
			"order_ref":   "a1",
		},
	}

	want := "[SIGNAL] Entry approved: GC\n" +
		"System 1 LONG at 2412.5000\n" +
		"limit: per_symbol\n" +
		"order_ref: a1\n" +
		"position_id: p1"
	assert.Equal(t, want, Format(ev))
}

func TestFormatWithoutData(t *testing.T) {
	t.Parallel()
	got := Format(Event{Kind: KindError, Title: "t", Body: "b"})
	assert.Equal(t, "[ERROR] t\nb", got)
}
