//go:build integration

package integrationtests

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/kyc/quota"
	"kycflow/pkg/testutil/containers"
)

func TestRedisQuotaChecker(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	checker := quota.NewRedisChecker(rc.Client)
	ctx := context.Background()

	t.Run("allows until the daily limit", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))
		userID := uuid.New()

		for i := 0; i < quota.DailyUploadLimit; i++ {
			ok, err := checker.Allow(ctx, userID)
			require.NoError(t, err)
			require.True(t, ok, "upload %d should be allowed", i)
			require.NoError(t, checker.Record(ctx, userID))
		}

		ok, err := checker.Allow(ctx, userID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("limits are per user", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))
		heavy := uuid.New()
		for i := 0; i < quota.DailyUploadLimit; i++ {
			require.NoError(t, checker.Record(ctx, heavy))
		}

		ok, err := checker.Allow(ctx, heavy)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = checker.Allow(ctx, uuid.New())
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
