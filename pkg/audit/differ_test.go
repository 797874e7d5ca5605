package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func articleAttrs(title, content string) *Attributes {
	return NewAttributes().
		Set("title", String(title)).
		Set("content", String(content)).
		Set("published", Bool(false))
}

func TestDiffCreated(t *testing.T) {
	changes := DiffCreated(articleAttrs("t", "c"), nil, Filter{})

	assert.Equal(t, 0, changes.Old.Len())
	assert.Equal(t, []string{"title", "content", "published"}, changes.New.Keys())
}

func TestDiffDeleted(t *testing.T) {
	changes := DiffDeleted(articleAttrs("t", "c"), nil, Filter{})

	assert.Equal(t, []string{"title", "content", "published"}, changes.Old.Keys())
	assert.Equal(t, 0, changes.New.Len())
}

func TestDiffUpdated(t *testing.T) {
	original := articleAttrs("old title", "same")
	current := articleAttrs("new title", "same")

	changes := DiffUpdated(current, original, Filter{})

	assert.Equal(t, []string{"title"}, changes.Old.Keys())
	assert.Equal(t, []string{"title"}, changes.New.Keys())
	v, _ := changes.Old.Get("title")
	assert.Equal(t, String("old title"), v)
	v, _ = changes.New.Get("title")
	assert.Equal(t, String("new title"), v)
}

func TestDiffUpdated_AddedAndRemovedKeys(t *testing.T) {
	original := NewAttributes().Set("a", Int(1)).Set("gone", String("x"))
	current := NewAttributes().Set("a", Int(1)).Set("added", String("y"))

	changes := DiffUpdated(current, original, Filter{})

	assert.Equal(t, []string{"added", "gone"}, changes.Old.Keys())
	assert.Equal(t, []string{"added", "gone"}, changes.New.Keys())

	old, _ := changes.Old.Get("added")
	assert.True(t, old.IsNull())
	nw, _ := changes.New.Get("gone")
	assert.True(t, nw.IsNull())
}

func TestDiffUpdated_NoChanges(t *testing.T) {
	changes := DiffUpdated(articleAttrs("t", "c"), articleAttrs("t", "c"), Filter{})
	assert.Equal(t, 0, changes.Old.Len())
	assert.Equal(t, 0, changes.New.Len())
}

func TestFilter(t *testing.T) {
	current := articleAttrs("t", "c")

	t.Run("exclude", func(t *testing.T) {
		changes := DiffCreated(current, nil, Filter{Exclude: []string{"content"}})
		assert.Equal(t, []string{"title", "published"}, changes.New.Keys())
	})

	t.Run("include", func(t *testing.T) {
		changes := DiffCreated(current, nil, Filter{Include: []string{"published", "title"}})
		assert.Equal(t, []string{"title", "published"}, changes.New.Keys())
	})

	t.Run("exclude wins over include", func(t *testing.T) {
		changes := DiffCreated(current, nil, Filter{
			Include: []string{"title", "content"},
			Exclude: []string{"title"},
		})
		assert.Equal(t, []string{"content"}, changes.New.Keys())
	})
}

func TestDiff_CopiesValues(t *testing.T) {
	current := articleAttrs("t", "c")
	changes := DiffCreated(current, nil, Filter{})

	current.Set("title", String("mutated"))
	v, _ := changes.New.Get("title")
	assert.Equal(t, String("t"), v)
}

func TestDiff_UnknownEvent(t *testing.T) {
	_, err := Diff("archived", NewAttributes(), NewAttributes(), Filter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidEvent)

	changes, err := Diff(EventRestored, articleAttrs("b", "c"), articleAttrs("a", "c"), Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, changes.New.Keys())
}

func TestBuiltinStrategy(t *testing.T) {
	strategy, ok := BuiltinStrategy(EventDeleted)
	require.True(t, ok)
	changes := strategy(articleAttrs("a", "c"), nil, Filter{})
	assert.Equal(t, 3, changes.Old.Len())

	_, ok = BuiltinStrategy("archived")
	assert.False(t, ok)
}

func TestDiffUpdated_LargeIntegers(t *testing.T) {
	var original, current Attributes
	require.NoError(t, original.UnmarshalJSON([]byte(`{"external_id":9007199254740993}`)))
	require.NoError(t, current.UnmarshalJSON([]byte(`{"external_id":9007199254740992}`)))

	changes := DiffUpdated(&current, &original, Filter{})

	assert.Equal(t, []string{"external_id"}, changes.New.Keys())
	data, err := changes.Old.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"external_id":9007199254740993}`, string(data))
}
