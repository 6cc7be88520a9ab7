package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindForCode(t *testing.T) {
	cases := map[string]StoreErrorKind{
		"PGRST116": KindNoRows,
		"23505":    KindDuplicate,
		"42703":    KindUnknownColumn,
		"PGRST204": KindUnknownColumn,
		"42501":    KindAccessDenied,
		"42p01":    KindTableMissing,
		"PGRST205": KindTableMissing,
		"08006":    KindOther,
		"":         KindOther,
	}
	for code, want := range cases {
		assert.Equal(t, want, KindForCode(code), "code %q", code)
	}
}

func TestStoreError_IsMatchesKindSentinel(t *testing.T) {
	err := fmt.Errorf("insert profile: %w", NewStoreError("profiles", "23505", "duplicate key value", nil))
	assert.True(t, errors.Is(err, ErrDuplicate))
	assert.False(t, errors.Is(err, ErrUnknownColumn))
	assert.Equal(t, KindDuplicate, KindOf(err))
}

func TestKindOf_ContextAndUnavailable(t *testing.T) {
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.Equal(t, KindUnavailable, KindOf(ErrUnavailable))
	assert.Equal(t, KindOther, KindOf(errors.New("boom")))
}

func TestStoreError_Message(t *testing.T) {
	e := NewStoreError("profiles", "42703", `column "mpesa_phone" does not exist`, nil)
	assert.Equal(t, `store: unknown_column on profiles [42703]: column "mpesa_phone" does not exist`, e.Error())
}
