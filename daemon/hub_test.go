package daemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub(nil, 4, nil)
	defer h.Close()

	a, cancelA, err := h.Add("a")
	require.NoError(t, err)
	b, cancelB, err := h.Add("b")
	require.NoError(t, err)
	defer cancelB()

	_, _, err = h.Add("a")
	assert.Error(t, err)

	require.True(t, h.Publish([]byte{1}))
	for _, ch := range []<-chan []byte{a, b} {
		select {
		case m := <-ch:
			assert.Equal(t, []byte{1}, m)
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}

	cancelA()
	_, ok := <-a
	assert.False(t, ok)
	assert.Equal(t, 1, h.Subscribers())
	cancelA()
}

func TestHubDropsWhenFull(t *testing.T) {
	drops := make(chan struct{}, 16)
	h := NewHub(nil, 1, func() { drops <- struct{}{} })
	defer h.Close()

	_, cancel, err := h.Add("slow")
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < 8; i++ {
		h.Publish([]byte{byte(i)})
	}
	require.Eventually(t, func() bool { return h.Dropped() > 0 }, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, drops)
}

func TestHubClose(t *testing.T) {
	h := NewHub(nil, 1, nil)
	ch, cancel, err := h.Add("a")
	require.NoError(t, err)

	h.Close()
	_, ok := <-ch
	assert.False(t, ok)
	cancel()
	h.Close()

	assert.False(t, h.Publish([]byte{1}))
	_, _, err = h.Add("b")
	assert.Error(t, err)
}
