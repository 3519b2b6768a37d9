package typeid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/objrt/pkg/typeid"
)

func TestNew_DistinctTokensWithSameName(t *testing.T) {
	t.Parallel()

	first := typeid.New("string")
	second := typeid.New("string")

	assert.NotSame(t, first, second)
	assert.Equal(t, first.Name(), second.Name())
}

func TestName_NilReportsPlaceholder(t *testing.T) {
	t.Parallel()

	var id *typeid.ID

	assert.Equal(t, "unknown class?", id.Name())
	assert.Equal(t, "unknown class?", id.String())
}

func TestIsCollection(t *testing.T) {
	t.Parallel()

	assert.True(t, typeid.Collection.IsCollection())
	assert.False(t, typeid.New("collection").IsCollection())

	var id *typeid.ID

	assert.False(t, id.IsCollection())
}
