package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	topicInt  = NewTopic[int]("int")
	topicText = NewTopic[string]("text")
)

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	b := New()
	var order []string
	Subscribe(b, topicInt, func(int) { order = append(order, "a") })
	Subscribe(b, topicInt, func(int) { order = append(order, "b") })
	Subscribe(b, topicInt, func(int) { order = append(order, "c") })

	n := Publish(b, topicInt, 1)
	require.Equal(t, 3, n)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestTopicsAreIsolated(t *testing.T) {
	b := New()
	var ints []int
	var texts []string
	Subscribe(b, topicInt, func(v int) { ints = append(ints, v) })
	Subscribe(b, topicText, func(v string) { texts = append(texts, v) })

	Publish(b, topicInt, 7)
	Publish(b, topicText, "x")

	assert.Equal(t, []int{7}, ints)
	assert.Equal(t, []string{"x"}, texts)
}

func TestUnsubscribeByHandle(t *testing.T) {
	b := New()
	var got []string
	h1 := Subscribe(b, topicInt, func(int) { got = append(got, "first") })
	Subscribe(b, topicInt, func(int) { got = append(got, "second") })

	require.True(t, b.Unsubscribe(h1))
	require.False(t, b.Unsubscribe(h1), "second removal must report unknown handle")

	Publish(b, topicInt, 1)
	assert.Equal(t, []string{"second"}, got)
	assert.Equal(t, 1, b.Listeners(topicInt.Name()))
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	b := New()
	var got []string
	var h2 Handle
	Subscribe(b, topicInt, func(int) {
		got = append(got, "first")
		b.Unsubscribe(h2)
	})
	h2 = Subscribe(b, topicInt, func(int) { got = append(got, "second") })
	Subscribe(b, topicInt, func(int) {
		got = append(got, "third")
		Subscribe(b, topicInt, func(int) { got = append(got, "late") })
	})

	Publish(b, topicInt, 1)
	assert.Equal(t, []string{"first", "third"}, got)

	got = nil
	Publish(b, topicInt, 2)
	assert.Equal(t, []string{"first", "third", "late"}, got)
}

func TestListenerPanicDoesNotStopDelivery(t *testing.T) {
	b := New()
	var called bool
	Subscribe(b, topicInt, func(int) { panic("boom") })
	Subscribe(b, topicInt, func(int) { called = true })

	n := Publish(b, topicInt, 1)
	assert.Equal(t, 1, n)
	assert.True(t, called)
}
