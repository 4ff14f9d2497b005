package traces

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	shutdown, err := Init(context.Background(), "", logger)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpan_NoProviderIsSafe(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "escrow.CaptureForBooking",
		BookingID("bk_1"),
		Reference("booking:bk_1:capture"),
		Amount("100.00"),
	)
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()
}

func TestAttributeHelpers(t *testing.T) {
	assert.Equal(t, "booking.id", string(BookingID("bk_1").Key))
	assert.Equal(t, "party.id", string(PartyID("client-1").Key))
	assert.Equal(t, "reference", string(Reference("r").Key))
	assert.Equal(t, "amount", string(Amount("1.00").Key))
}
