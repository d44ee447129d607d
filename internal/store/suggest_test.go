package store_test

import (
	"testing"

	intStore "github.com/gxo-labs/statesync/internal/store"

	"github.com/stretchr/testify/assert"
)

func TestSuggest(t *testing.T) {
	candidates := []string{"default", "double", "isPositive"}

	assert.Equal(t, "double", intStore.Suggest("doubel", candidates))
	assert.Equal(t, "isPositive", intStore.Suggest("isPositiv", candidates))
	assert.Empty(t, intStore.Suggest("triple", candidates))
	assert.Empty(t, intStore.Suggest("double", []string{"double"}))
	assert.Empty(t, intStore.Suggest("x", nil))
}
