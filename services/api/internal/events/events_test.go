package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCache struct {
	dropped []uuid.UUID
	err     error
}

func (c *recordingCache) InvalidateOverview(_ context.Context, tenantID uuid.UUID) error {
	if c.err != nil {
		return c.err
	}
	c.dropped = append(c.dropped, tenantID)
	return nil
}

type fakeBus struct {
	subject string
	payload []byte
	handler func(ctx context.Context, subject string, data []byte) error
	durable string
}

func (b *fakeBus) Publish(_ context.Context, subj string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.subject, b.payload = subj, data
	if b.handler != nil {
		return b.handler(context.Background(), subj, data)
	}
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, subj, durable string, fn func(ctx context.Context, subject string, data []byte) error) (io.Closer, error) {
	b.durable = durable
	b.handler = fn
	return io.NopCloser(nil), nil
}

func TestBusNotifierRoundTrip(t *testing.T) {
	bus := &fakeBus{}
	cache := &recordingCache{}

	inv, err := NewInvalidator(cache, zerolog.Nop())
	require.NoError(t, err)
	_, err = inv.Start(context.Background(), bus)
	require.NoError(t, err)
	assert.Equal(t, InvalidatorDurable, bus.durable)

	n, err := NewBusNotifier(bus)
	require.NoError(t, err)

	tenantID := uuid.New()
	require.NoError(t, n.FlowChanged(context.Background(), Change{Kind: FlowCreated, TenantID: tenantID, FlowID: uuid.New()}))

	assert.Equal(t, "navio.flows.created", bus.subject)
	assert.Equal(t, []uuid.UUID{tenantID}, cache.dropped)
}

func TestInvalidatorHandle(t *testing.T) {
	cache := &recordingCache{}
	inv, err := NewInvalidator(cache, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, inv.Handle(context.Background(), "navio.flows.deleted", []byte("{not json")))
	assert.Empty(t, cache.dropped)

	cache.err = errors.New("redis down")
	data, _ := json.Marshal(Change{Kind: FlowDeleted, TenantID: uuid.New()})
	assert.Error(t, inv.Handle(context.Background(), "navio.flows.deleted", data))
}

func TestDirectNotifier(t *testing.T) {
	cache := &recordingCache{}
	n, err := NewDirectNotifier(cache)
	require.NoError(t, err)

	tenantID := uuid.New()
	require.NoError(t, n.FlowChanged(context.Background(), Change{Kind: FlowUpdated, TenantID: tenantID}))
	assert.Equal(t, []uuid.UUID{tenantID}, cache.dropped)

	_, err = NewDirectNotifier(nil)
	assert.Error(t, err)
}
