package optimistic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type item struct {
	id    string
	label string
}

func newSet() *Set[string, item] {
	return New(func(i item) string { return i.id })
}

func ids(items []item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out
}

func TestSet_AddBeforeConfirmation(t *testing.T) {
	s := newSet()
	s.Reconcile([]item{{id: "a"}})
	s.Add(item{id: "b"})

	assert.Equal(t, []string{"a", "b"}, ids(s.Merged()))
	assert.Equal(t, 1, s.Pending())

	// Authoritative data now includes b: the optimistic add is dropped.
	s.Reconcile([]item{{id: "a"}, {id: "b", label: "server"}})
	merged := s.Merged()
	assert.Equal(t, []string{"a", "b"}, ids(merged))
	assert.Equal(t, "server", merged[1].label)
	assert.Equal(t, 0, s.Pending())
}

func TestSet_AddReplacesPendingAdd(t *testing.T) {
	s := newSet()
	s.Add(item{id: "x", label: "v1"})
	s.Add(item{id: "x", label: "v2"})

	merged := s.Merged()
	assert.Len(t, merged, 1)
	assert.Equal(t, "v2", merged[0].label)
}

func TestSet_RemoveConfirmed(t *testing.T) {
	s := newSet()
	s.Reconcile([]item{{id: "a"}, {id: "b"}})
	s.Remove("a")

	assert.Equal(t, []string{"b"}, ids(s.Merged()))

	// Still listed upstream: removal stays pending.
	s.Reconcile([]item{{id: "a"}, {id: "b"}})
	assert.Equal(t, []string{"b"}, ids(s.Merged()))
	assert.Equal(t, 1, s.Pending())

	// Gone upstream: removal applied.
	s.Reconcile([]item{{id: "b"}})
	assert.Equal(t, []string{"b"}, ids(s.Merged()))
	assert.Equal(t, 0, s.Pending())
}

func TestSet_RemoveCancelsAdd(t *testing.T) {
	s := newSet()
	s.Add(item{id: "a"})
	s.Remove("a")

	assert.Empty(t, s.Merged())
	assert.Equal(t, 0, s.Pending())
}

func TestSet_AddCancelsRemove(t *testing.T) {
	s := newSet()
	s.Reconcile([]item{{id: "a"}})
	s.Remove("a")
	s.Add(item{id: "a"})

	assert.Equal(t, []string{"a"}, ids(s.Merged()))
	assert.Equal(t, 0, s.Pending())
}
