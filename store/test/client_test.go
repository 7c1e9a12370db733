package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/rentflow/store"
)

func TestClientStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	created, err := ts.CreateClient(ctx, &store.Client{UID: "client-a", Name: "Acme", Email: "ops@acme.example"})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.NotZero(t, created.CreatedTs)

	_, err = ts.CreateClient(ctx, &store.Client{UID: "client-b", Name: "Beta"})
	require.NoError(t, err)

	list, err := ts.ListClients(ctx, &store.FindClient{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "Acme", list[0].Name)

	limit := 1
	list, err = ts.ListClients(ctx, &store.FindClient{Limit: &limit})
	require.NoError(t, err)
	require.Len(t, list, 1)

	uid := "client-a"
	got, err := ts.GetClient(ctx, &store.FindClient{UID: &uid})
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, "ops@acme.example", got.Email)

	require.NoError(t, ts.DeleteClient(ctx, &store.DeleteClient{ID: created.ID}))
	got, err = ts.GetClient(ctx, &store.FindClient{UID: &uid})
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestEquipmentStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	created, err := ts.CreateEquipment(ctx, &store.Equipment{UID: "eq-1", Name: "Scissor lift", DailyRateCents: 12000})
	require.NoError(t, err)
	require.Equal(t, store.EquipmentAvailable, created.Status)

	rented := store.EquipmentRented
	require.NoError(t, ts.UpdateEquipment(ctx, &store.UpdateEquipment{ID: created.ID, Status: &rented}))

	list, err := ts.ListEquipments(ctx, &store.FindEquipment{Status: &rented})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "Scissor lift", list[0].Name)
	require.Equal(t, int64(12000), list[0].DailyRateCents)

	available := store.EquipmentAvailable
	list, err = ts.ListEquipments(ctx, &store.FindEquipment{Status: &available})
	require.NoError(t, err)
	require.Empty(t, list)
}
