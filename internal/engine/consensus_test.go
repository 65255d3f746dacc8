package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"uptimeline/internal/domain"
)

func votes(ups ...bool) []domain.Submission {
	subs := make([]domain.Submission, len(ups))
	for i, up := range ups {
		subs[i] = domain.Submission{ValidatorID: fmt.Sprintf("v%d", i+1), IsUp: up}
	}
	return subs
}

func TestDecide(t *testing.T) {
	v := Decide(votes(true, true, false))
	assert.Equal(t, domain.StatusUp, v.Outcome)
	assert.Equal(t, []string{"v1", "v2"}, v.Honest)
	assert.Equal(t, []string{"v3"}, v.Dissenters)

	v = Decide(votes(true, false, false))
	assert.Equal(t, domain.StatusDown, v.Outcome)
	assert.Equal(t, []string{"v2", "v3"}, v.Honest)

	v = Decide(votes(true, false))
	assert.Equal(t, domain.StatusDown, v.Outcome, "ties fail safe")
	assert.Equal(t, 1, v.Up)
	assert.Equal(t, 1, v.Down)

	v = Decide(nil)
	assert.Equal(t, domain.StatusDown, v.Outcome)
	assert.Empty(t, v.Honest)
}

func TestShare(t *testing.T) {
	assert.Equal(t, int64(10), Share(10, 1))
	assert.Equal(t, int64(3), Share(10, 3))
	assert.Equal(t, int64(0), Share(10, 0))
	assert.Equal(t, int64(0), Share(2, 3))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindTiming, KindOf(fmt.Errorf("cycle 3: %w", ErrCycleExpired)))
	assert.Equal(t, KindFunds, KindOf(ErrInsufficientPool))
	assert.Equal(t, KindAuthorization, KindOf(ErrNotAssigned))
	assert.Equal(t, KindInternal, KindOf(errors.New("disk on fire")))
}
