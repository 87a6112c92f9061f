package timedata

import (
	"fmt"
	"strings"
	"time"
)

// fluxEscaper escapes Flux string literal content, including interpolation.
var fluxEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"${", `\${`,
)

// fluxString renders s as a Flux string literal.
func fluxString(s string) string {
	return `"` + fluxEscaper.Replace(s) + `"`
}

// fluxTime renders t as a Flux time literal.
func fluxTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// fluxDuration renders d in the largest unit that divides it exactly.
func fluxDuration(d time.Duration) string {
	units := []struct {
		size time.Duration
		name string
	}{
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
		{time.Millisecond, "ms"},
		{time.Microsecond, "us"},
	}
	for _, u := range units {
		if d%u.size == 0 {
			return fmt.Sprintf("%d%s", d/u.size, u.name)
		}
	}
	return fmt.Sprintf("%dns", int64(d))
}

// fluxSelection scopes a query to one device, a time range and a set of fields.
type fluxSelection struct {
	bucket      string
	measurement string
	deviceTag   string
	device      uint32
	start       time.Time
	stop        time.Time
	fields      []string
}

// source renders the from/range/filter pipeline.
func (q fluxSelection) source() string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", fluxString(q.bucket))
	fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n", fluxTime(q.start), fluxTime(q.stop))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %s)\n", fluxString(q.measurement))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r[%s] == %s)\n", fluxString(q.deviceTag), fluxString(FormatDeviceTag(q.device)))

	predicates := make([]string, 0, len(q.fields))
	for _, f := range q.fields {
		predicates = append(predicates, "r._field == "+fluxString(f))
	}
	fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", strings.Join(predicates, " or "))
	return b.String()
}

// rawFlux selects the samples, averaged per resolution window when
// resolution is positive.
func rawFlux(q fluxSelection, resolution time.Duration) string {
	var b strings.Builder
	b.WriteString(q.source())
	if resolution > 0 {
		fmt.Fprintf(&b, "  |> aggregateWindow(every: %s, fn: mean, createEmpty: false)\n", fluxDuration(resolution))
	}
	b.WriteString(`  |> keep(columns: ["_time", "_field", "_value"])` + "\n")
	return b.String()
}

// perPeriodFlux computes the spread of each channel per period, with
// windows aligned to q.start and labelled by their start.
func perPeriodFlux(q fluxSelection, resolution time.Duration) string {
	var b strings.Builder
	b.WriteString(q.source())

	offset := time.Duration(q.start.UnixNano() % int64(resolution))
	if offset < 0 {
		offset += resolution
	}
	if offset > 0 {
		fmt.Fprintf(&b, "  |> aggregateWindow(every: %s, offset: %s, fn: spread, createEmpty: false, timeSrc: \"_start\")\n",
			fluxDuration(resolution), fluxDuration(offset))
	} else {
		fmt.Fprintf(&b, "  |> aggregateWindow(every: %s, fn: spread, createEmpty: false, timeSrc: \"_start\")\n",
			fluxDuration(resolution))
	}
	b.WriteString(`  |> keep(columns: ["_time", "_field", "_value"])` + "\n")
	return b.String()
}

// energyFlux selects the first and last sample of each channel, marked
// in the _agg column.
func energyFlux(q fluxSelection) string {
	var b strings.Builder
	b.WriteString("data = ")
	b.WriteString(q.source())
	b.WriteString("\n")
	b.WriteString("union(tables: [\n")
	b.WriteString(`    data |> first() |> set(key: "_agg", value: "first"),` + "\n")
	b.WriteString(`    data |> last() |> set(key: "_agg", value: "last")` + "\n")
	b.WriteString("])\n")
	b.WriteString(`  |> keep(columns: ["_time", "_field", "_value", "_agg"])` + "\n")
	return b.String()
}
