package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/agencyledger/internal/customer/domain"
	"github.com/smallbiznis/agencyledger/internal/customer/repository"
	"github.com/smallbiznis/agencyledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrementLifetimeSpend(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	repo := repository.Provide()
	ctx := context.Background()

	c := domain.Customer{ID: node.Generate(), Name: "Sari", UpdatedAt: time.Now().UTC()}
	require.NoError(t, db.Create(&c).Error)

	require.NoError(t, repo.IncrementLifetimeSpend(ctx, db, c.ID, 150000))
	require.NoError(t, repo.IncrementLifetimeSpend(ctx, db, c.ID, -50000))

	got, err := repo.FindByID(ctx, db, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), got.LifetimeSpend)
}

func TestIncrementUnknownCustomer(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.Provide()
	ctx := context.Background()

	err := repo.IncrementLifetimeSpend(ctx, db, 42, 100)
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)

	// A zero delta never touches the row.
	assert.NoError(t, repo.IncrementLifetimeSpend(ctx, db, 42, 0))

	_, err = repo.FindByID(ctx, db, 42)
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
}
