package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/terminalpay-backend/pkg/config"
	"github.com/angelmondragon/terminalpay-backend/pkg/pubsub"
)

func TestRuntimeCloseReverseOrderAndCombinesErrors(t *testing.T) {
	var order []string
	rt := &Runtime{closers: []func() error{
		func() error { order = append(order, "db"); return errors.New("db close") },
		func() error { order = append(order, "redis"); return nil },
		func() error { order = append(order, "pubsub"); return errors.New("pubsub close") },
	}}

	err := rt.Close()
	require.Error(t, err)
	assert.Equal(t, []string{"pubsub", "redis", "db"}, order)
	assert.Len(t, multierr.Errors(err), 2)

	assert.NoError(t, rt.Close(), "second close is a no-op")
	var nilRuntime *Runtime
	assert.NoError(t, nilRuntime.Close())
}

func TestOpenFailsWithoutDatabase(t *testing.T) {
	rt, err := Open(context.Background(), &config.Config{}, nil, pubsub.RolePublisher)
	assert.Nil(t, rt)
	assert.ErrorContains(t, err, "database")
}
