package obs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewInstrumentsRegistersWithoutError(t *testing.T) {
	in, err := NewInstruments()
	require.NoError(t, err)
	require.NotNil(t, in)
}

func TestRecordHelpersAreNoOpSafeOnNilInstruments(t *testing.T) {
	var in *Instruments
	ctx := context.Background()
	require.NotPanics(t, func() {
		in.RecordCommit(ctx)
		in.RecordWALFlush(ctx, 1.5)
		in.RecordQueryDuration(ctx, 2.5)
		_, span := in.StartSpan(ctx, "Parsing")
		span.End()
	})
}

func TestStartSpanStagesDoNotPanic(t *testing.T) {
	in, err := NewInstruments()
	require.NoError(t, err)
	ctx := context.Background()
	for _, stage := range []string{"Parsing", "Planning", "Executing"} {
		_, span := in.StartSpan(ctx, stage)
		span.End()
	}
}
