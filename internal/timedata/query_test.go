package timedata_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-timedata/internal/timedata"
)

var (
	cet       = time.FixedZone("CET", 3600)
	queryFrom = time.Date(2024, 3, 1, 0, 0, 0, 0, cet)
	queryTo   = queryFrom.Add(24 * time.Hour)
)

func assertQueryError(t *testing.T, err error, op string, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
	var qe *timedata.QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("error %T is not *QueryError", err)
	}
	if qe.Op != op {
		t.Errorf("QueryError.Op = %q, want %q", qe.Op, op)
	}
}

func TestQueryHistoricData(t *testing.T) {
	svc, _, querier := newTestService(t, nil)
	t0 := time.Date(2024, 2, 29, 23, 15, 0, 0, time.UTC)
	querier.rows = []timedata.Row{
		{Time: t0.Add(15 * time.Minute), Field: "meter0/ActivePower", Value: 1300.0},
		{Time: t0, Field: "meter0/ActivePower", Value: 1200.0},
		{Time: t0, Field: "ess0/Soc", Value: int64(50)},
		{Time: t0, Field: "meter9/Ignored", Value: 1.0},
		{Time: t0.Add(30 * time.Minute), Field: "ess0/Soc", Value: nil},
	}

	channels := []timedata.ChannelAddress{addr("meter0", "ActivePower"), addr("ess0", "Soc")}
	series, err := svc.QueryHistoricData(context.Background(), "edge3", queryFrom, queryTo, channels, 15*time.Minute)
	if err != nil {
		t.Fatalf("QueryHistoricData() error = %v", err)
	}

	if len(series) != 2 {
		t.Fatalf("series len = %d, want 2", len(series))
	}
	if !series[0].Timestamp.Equal(t0) || !series[1].Timestamp.Equal(t0.Add(15*time.Minute)) {
		t.Errorf("timestamps = %v, want ascending from %v", series.Timestamps(), t0)
	}
	if series[0].Timestamp.Location() != cet {
		t.Errorf("location = %v, want CET", series[0].Timestamp.Location())
	}
	first := series[0].Values
	if first[addr("meter0", "ActivePower")] != 1200.0 || first[addr("ess0", "Soc")] != int64(50) {
		t.Errorf("first entry = %v", first)
	}
	if _, ok := first[addr("meter9", "Ignored")]; ok {
		t.Error("unrequested channel returned")
	}
	if _, ok := series[1].Values[addr("ess0", "Soc")]; ok {
		t.Error("missing value filled in")
	}

	flux := querier.lastQuery()
	for _, want := range []string{
		`from(bucket: "timedata")`,
		`range(start: 2024-02-29T23:00:00Z, stop: 2024-03-01T23:00:00Z)`,
		`r._measurement == "data"`,
		`r["edge"] == "3"`,
		`r._field == "ess0/Soc" or r._field == "meter0/ActivePower"`,
		`aggregateWindow(every: 15m, fn: mean, createEmpty: false)`,
	} {
		if !strings.Contains(flux, want) {
			t.Errorf("flux missing %q:\n%s", want, flux)
		}
	}
}

func TestQueryHistoricData_RawSamples(t *testing.T) {
	svc, _, querier := newTestService(t, nil)

	_, err := svc.QueryHistoricData(context.Background(), "edge3", queryFrom, queryTo,
		[]timedata.ChannelAddress{addr("meter0", "ActivePower")}, 0)
	if err != nil {
		t.Fatalf("QueryHistoricData() error = %v", err)
	}
	if strings.Contains(querier.lastQuery(), "aggregateWindow") {
		t.Errorf("raw query aggregates:\n%s", querier.lastQuery())
	}
}

func TestQueryHistoricData_EscapesNames(t *testing.T) {
	svc, _, querier := newTestService(t, nil)

	_, err := svc.QueryHistoricData(context.Background(), "edge3", queryFrom, queryTo,
		[]timedata.ChannelAddress{addr(`me"ter`, "Power${x}")}, 0)
	if err != nil {
		t.Fatalf("QueryHistoricData() error = %v", err)
	}
	if want := `r._field == "me\"ter/Power\${x}"`; !strings.Contains(querier.lastQuery(), want) {
		t.Errorf("flux missing %q:\n%s", want, querier.lastQuery())
	}
}

func TestQueries_ShortCircuit(t *testing.T) {
	svc, _, querier := newTestService(t, nil)
	ctx := context.Background()
	channels := []timedata.ChannelAddress{addr("meter0", "ActiveConsumptionEnergy")}

	tests := []struct {
		name string
		run  func() (int, error)
	}{
		{name: "data without channels", run: func() (int, error) {
			s, err := svc.QueryHistoricData(ctx, "edge3", queryFrom, queryTo, nil, 0)
			return len(s), err
		}},
		{name: "data empty range", run: func() (int, error) {
			s, err := svc.QueryHistoricData(ctx, "edge3", queryFrom, queryFrom, channels, 0)
			return len(s), err
		}},
		{name: "energy empty range", run: func() (int, error) {
			s, err := svc.QueryHistoricEnergy(ctx, "edge3", queryFrom, queryFrom, channels)
			return len(s), err
		}},
		{name: "energy without channels", run: func() (int, error) {
			s, err := svc.QueryHistoricEnergy(ctx, "edge3", queryFrom, queryTo, nil)
			return len(s), err
		}},
		{name: "per period empty range", run: func() (int, error) {
			s, err := svc.QueryHistoricEnergyPerPeriod(ctx, "edge3", queryFrom, queryFrom, channels, time.Hour)
			return len(s), err
		}},
		{name: "per period shorter than resolution", run: func() (int, error) {
			s, err := svc.QueryHistoricEnergyPerPeriod(ctx, "edge3", queryFrom, queryFrom.Add(59*time.Minute), channels, time.Hour)
			return len(s), err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := tt.run()
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if n != 0 {
				t.Errorf("result len = %d, want 0", n)
			}
		})
	}

	if querier.calls() != 0 {
		t.Errorf("backend queried %d times, want 0", querier.calls())
	}
}

func TestQueries_Validation(t *testing.T) {
	svc, _, querier := newTestService(t, nil)
	ctx := context.Background()
	channels := []timedata.ChannelAddress{addr("meter0", "ActiveConsumptionEnergy")}

	tests := []struct {
		name   string
		op     string
		target error
		run    func() error
	}{
		{name: "data malformed device", op: timedata.OpQueryHistoricData, target: timedata.ErrMalformedDeviceName, run: func() error {
			_, err := svc.QueryHistoricData(ctx, "edge", queryFrom, queryTo, channels, 0)
			return err
		}},
		{name: "data inverted range", op: timedata.OpQueryHistoricData, target: timedata.ErrInvalidQueryRange, run: func() error {
			_, err := svc.QueryHistoricData(ctx, "edge3", queryTo, queryFrom, channels, 0)
			return err
		}},
		{name: "data negative resolution", op: timedata.OpQueryHistoricData, target: timedata.ErrInvalidResolution, run: func() error {
			_, err := svc.QueryHistoricData(ctx, "edge3", queryFrom, queryTo, channels, -time.Minute)
			return err
		}},
		{name: "energy inverted range", op: timedata.OpQueryHistoricEnergy, target: timedata.ErrInvalidQueryRange, run: func() error {
			_, err := svc.QueryHistoricEnergy(ctx, "edge3", queryTo, queryFrom, channels)
			return err
		}},
		{name: "energy malformed device", op: timedata.OpQueryHistoricEnergy, target: timedata.ErrMalformedDeviceName, run: func() error {
			_, err := svc.QueryHistoricEnergy(ctx, "42", queryFrom, queryTo, channels)
			return err
		}},
		{name: "per period zero resolution", op: timedata.OpQueryHistoricEnergyPerPeriod, target: timedata.ErrInvalidResolution, run: func() error {
			_, err := svc.QueryHistoricEnergyPerPeriod(ctx, "edge3", queryFrom, queryTo, channels, 0)
			return err
		}},
		{name: "per period inverted range", op: timedata.OpQueryHistoricEnergyPerPeriod, target: timedata.ErrInvalidQueryRange, run: func() error {
			_, err := svc.QueryHistoricEnergyPerPeriod(ctx, "edge3", queryTo, queryFrom, channels, time.Hour)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertQueryError(t, tt.run(), tt.op, tt.target)
		})
	}

	if querier.calls() != 0 {
		t.Errorf("backend queried %d times, want 0", querier.calls())
	}
}

func TestQueryHistoricEnergyPerPeriod(t *testing.T) {
	svc, _, querier := newTestService(t, nil)
	from := time.Date(2024, 3, 1, 0, 5, 0, 0, time.UTC)
	to := from.Add(50 * time.Minute)
	querier.rows = []timedata.Row{
		{Time: from.Add(15 * time.Minute), Field: "meter0/ActiveConsumptionEnergy", Value: int64(250)},
		{Time: from, Field: "meter0/ActiveConsumptionEnergy", Value: int64(300)},
	}

	series, err := svc.QueryHistoricEnergyPerPeriod(context.Background(), "edge3", from, to,
		[]timedata.ChannelAddress{addr("meter0", "ActiveConsumptionEnergy")}, 15*time.Minute)
	if err != nil {
		t.Fatalf("QueryHistoricEnergyPerPeriod() error = %v", err)
	}

	if len(series) != 2 {
		t.Fatalf("series len = %d, want 2", len(series))
	}
	if !series[0].Timestamp.Equal(from) {
		t.Errorf("first period = %v, want %v", series[0].Timestamp, from)
	}
	if got := series[0].Values[addr("meter0", "ActiveConsumptionEnergy")]; got != int64(300) {
		t.Errorf("first period value = %v, want 300", got)
	}

	flux := querier.lastQuery()
	for _, want := range []string{
		// Trailing 5 minute partial period dropped.
		`range(start: 2024-03-01T00:05:00Z, stop: 2024-03-01T00:50:00Z)`,
		`aggregateWindow(every: 15m, offset: 5m, fn: spread, createEmpty: false, timeSrc: "_start")`,
	} {
		if !strings.Contains(flux, want) {
			t.Errorf("flux missing %q:\n%s", want, flux)
		}
	}
}

func TestQueryHistoricEnergyPerPeriod_AlignedStart(t *testing.T) {
	svc, _, querier := newTestService(t, nil)

	_, err := svc.QueryHistoricEnergyPerPeriod(context.Background(), "edge3", queryFrom, queryTo,
		[]timedata.ChannelAddress{addr("meter0", "ActiveConsumptionEnergy")}, time.Hour)
	if err != nil {
		t.Fatalf("QueryHistoricEnergyPerPeriod() error = %v", err)
	}
	flux := querier.lastQuery()
	if !strings.Contains(flux, `aggregateWindow(every: 1h, fn: spread`) {
		t.Errorf("flux not aligned without offset:\n%s", flux)
	}
}

func TestQueryHistoricEnergy(t *testing.T) {
	svc, _, querier := newTestService(t, nil)
	querier.rows = []timedata.Row{
		{Time: queryFrom, Field: "meter0/ActiveConsumptionEnergy", Value: int64(1000), Values: map[string]any{"_agg": "first"}},
		{Time: queryTo, Field: "meter0/ActiveConsumptionEnergy", Value: int64(1500), Values: map[string]any{"_agg": "last"}},
		{Time: queryFrom, Field: "meter1/ActiveProductionEnergy", Value: 10.5, Values: map[string]any{"_agg": "first"}},
		{Time: queryTo, Field: "meter1/ActiveProductionEnergy", Value: int64(20), Values: map[string]any{"_agg": "last"}},
		{Time: queryTo, Field: "meter2/ActiveProductionEnergy", Value: int64(7), Values: map[string]any{"_agg": "last"}},
		{Time: queryTo, Field: "meter2/Label", Value: "x", Values: map[string]any{"_agg": "last"}},
	}

	channels := []timedata.ChannelAddress{
		addr("meter0", "ActiveConsumptionEnergy"),
		addr("meter1", "ActiveProductionEnergy"),
		addr("meter2", "ActiveProductionEnergy"),
		addr("meter3", "ActiveProductionEnergy"),
	}
	totals, err := svc.QueryHistoricEnergy(context.Background(), "edge3", queryFrom, queryTo, channels)
	if err != nil {
		t.Fatalf("QueryHistoricEnergy() error = %v", err)
	}

	if got := totals[addr("meter0", "ActiveConsumptionEnergy")]; got != int64(500) {
		t.Errorf("meter0 = %#v, want int64(500)", got)
	}
	if got := totals[addr("meter1", "ActiveProductionEnergy")]; got != 9.5 {
		t.Errorf("meter1 = %#v, want 9.5", got)
	}
	if _, ok := totals[addr("meter2", "ActiveProductionEnergy")]; ok {
		t.Error("meter2 without first sample has a total")
	}
	if _, ok := totals[addr("meter3", "ActiveProductionEnergy")]; ok {
		t.Error("meter3 without data has a total")
	}
	if len(totals) != 2 {
		t.Errorf("totals = %v, want 2 channels", totals)
	}

	flux := querier.lastQuery()
	for _, want := range []string{
		"data = from(",
		`data |> first() |> set(key: "_agg", value: "first")`,
		`data |> last() |> set(key: "_agg", value: "last")`,
	} {
		if !strings.Contains(flux, want) {
			t.Errorf("flux missing %q:\n%s", want, flux)
		}
	}
}

func TestQueries_BackendErrors(t *testing.T) {
	ctx := context.Background()
	channels := []timedata.ChannelAddress{addr("meter0", "ActivePower")}

	t.Run("unavailable", func(t *testing.T) {
		svc, _, querier := newTestService(t, nil)
		querier.err = errors.New("dial tcp: connection refused")

		_, err := svc.QueryHistoricData(ctx, "edge3", queryFrom, queryTo, channels, 0)
		assertQueryError(t, err, timedata.OpQueryHistoricData, timedata.ErrBackendUnavailable)
	})

	t.Run("timeout", func(t *testing.T) {
		svc, _, querier := newTestService(t, func(d *timedata.Deps) {
			d.Config.QueryTimeout = 20 * time.Millisecond
		})
		querier.block = true

		_, err := svc.QueryHistoricEnergy(ctx, "edge3", queryFrom, queryTo, channels)
		assertQueryError(t, err, timedata.OpQueryHistoricEnergy, timedata.ErrBackendTimeout)
	})

	t.Run("caller deadline", func(t *testing.T) {
		svc, _, querier := newTestService(t, nil)
		querier.block = true
		deadlineCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		_, err := svc.QueryHistoricEnergyPerPeriod(deadlineCtx, "edge3", queryFrom, queryTo, channels, time.Hour)
		assertQueryError(t, err, timedata.OpQueryHistoricEnergyPerPeriod, timedata.ErrBackendTimeout)
	})

	t.Run("error message names device", func(t *testing.T) {
		svc, _, querier := newTestService(t, nil)
		querier.err = errors.New("boom")

		_, err := svc.QueryHistoricData(ctx, "edge3", queryFrom, queryTo, channels, 0)
		if err == nil || !strings.Contains(err.Error(), "edge3") {
			t.Errorf("error = %v, want device in message", err)
		}
	})
}
