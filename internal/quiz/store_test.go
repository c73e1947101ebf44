package quiz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistryExpiry(t *testing.T) {
	r := NewRegistry(time.Hour)
	r.Put(Challenge{ID: "a", SubscriberID: 1}, t0)
	r.Put(Challenge{ID: "b", SubscriberID: 1}, t0.Add(30*time.Minute))

	_, ok := r.Get("a", t0.Add(59*time.Minute))
	assert.True(t, ok)

	// putting a new challenge sweeps the expired one
	r.Put(Challenge{ID: "c", SubscriberID: 1}, t0.Add(time.Hour))
	assert.Equal(t, 2, r.Len())
	_, ok = r.Get("a", t0.Add(time.Hour))
	assert.False(t, ok)
}

func TestRegistryMarkAnswered(t *testing.T) {
	r := NewRegistry(time.Hour)
	r.Put(Challenge{ID: "a"}, t0)

	assert.False(t, r.MarkAnswered("a"))
	assert.True(t, r.MarkAnswered("a"))
	assert.False(t, r.MarkAnswered("missing"))
}

func TestPendingStore(t *testing.T) {
	s := NewPendingStore()
	s.Set(Challenge{ID: "a", SubscriberID: 1})
	s.Set(Challenge{ID: "b", SubscriberID: 2})
	s.Set(Challenge{ID: "c", SubscriberID: 1})

	ch, ok := s.Take(1)
	assert.True(t, ok)
	assert.Equal(t, "c", ch.ID)
	_, ok = s.Take(1)
	assert.False(t, ok)
	assert.True(t, s.Has(2))
}
