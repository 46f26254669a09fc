package notifier

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu    sync.Mutex
	texts []string
}

func (s *memSink) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return nil
}

func (s *memSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func TestNotifyPrefixesAccountTag(t *testing.T) {
	sink := &memSink{}
	n := NewAccountNotifier("acc1", sink)

	n.Notify("MTM %.2f breached limit", -10500.0)

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "[acc1] MTM -10500.00 breached limit", sink.all()[0])
}

func TestDuplicateSuppressionWindow(t *testing.T) {
	n := NewAccountNotifier("acc1", &memSink{})
	now := time.Now()

	assert.False(t, n.duplicate("alert", now))
	assert.True(t, n.duplicate("alert", now.Add(30*time.Second)))
	assert.False(t, n.duplicate("other alert", now.Add(30*time.Second)))
	// Past the window the same text goes through again.
	assert.False(t, n.duplicate("alert", now.Add(90*time.Second)))
}

func TestNilNotifierIsSafe(t *testing.T) {
	var n *AccountNotifier
	assert.NotPanics(t, func() { n.Notify("ignored") })

	n = NewAccountNotifier("acc1", nil)
	assert.NotPanics(t, func() { n.Notify("ignored") })
}
