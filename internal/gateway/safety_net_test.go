package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakePending struct{ pending bool }

func (f fakePending) Pending() bool { return f.pending }

func TestDetectUnresolvedPlaceholder_Nil(t *testing.T) {
	assert.NoError(t, detectUnresolvedPlaceholder(nil))
}

func TestDetectUnresolvedPlaceholder_ResolvedPlaceholderPasses(t *testing.T) {
	assert.NoError(t, detectUnresolvedPlaceholder(fakePending{pending: false}))
}

func TestDetectUnresolvedPlaceholder_TopLevelPending(t *testing.T) {
	err := detectUnresolvedPlaceholder(fakePending{pending: true})
	assert.ErrorIs(t, err, ErrUnresolvedPlaceholder)
}

func TestDetectUnresolvedPlaceholder_NestedInMap(t *testing.T) {
	payload := map[string]any{"result": fakePending{pending: true}}
	err := detectUnresolvedPlaceholder(payload)
	assert.ErrorIs(t, err, ErrUnresolvedPlaceholder)
}

func TestDetectUnresolvedPlaceholder_NestedInSlice(t *testing.T) {
	payload := []any{"fine", fakePending{pending: true}}
	err := detectUnresolvedPlaceholder(payload)
	assert.ErrorIs(t, err, ErrUnresolvedPlaceholder)
}

func TestDetectUnresolvedPlaceholder_BareContext(t *testing.T) {
	err := detectUnresolvedPlaceholder(context.Background())
	assert.ErrorIs(t, err, ErrUnresolvedPlaceholder)
}

func TestDetectUnresolvedPlaceholder_UnresolvedChannel(t *testing.T) {
	ch := make(chan int)
	err := detectUnresolvedPlaceholder(ch)
	assert.ErrorIs(t, err, ErrUnresolvedPlaceholder)
}

func TestDetectUnresolvedPlaceholder_OrdinaryPayloadPasses(t *testing.T) {
	payload := map[string]any{"content": "hello", "nested": map[string]any{"a": 1}}
	assert.NoError(t, detectUnresolvedPlaceholder(payload))
}
