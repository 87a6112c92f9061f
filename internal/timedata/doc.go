// Package timedata is the schema-adaptive write path and historic query
// layer of Gray Logic Timedata.
//
// # Write Path
//
// Devices deliver loosely typed channel readings per timestamp. Write
// resolves the numeric device id from the device name, groups readings into
// one point per timestamp, coerces every value into an InfluxDB field type
// and queues the point on the PointWriter:
//
//	samples := timedata.Samples{
//	    1700000000000: {
//	        "meter0/ActivePower": timedata.Number("1200"),
//	        "meter0/State":       timedata.String("OK"),
//	    },
//	}
//	err := svc.Write("edge3", samples)
//
// # Type Conflicts
//
// InfluxDB fixes a field's type on first write and rejects later writes of
// another type. Such rejections arrive asynchronously at HandleWriteFailure,
// which learns an override for the field in the Registry. From then on every
// value of that field is converted to the stored type. The rejected values
// are not retried.
//
// # Historic Queries
//
//   - QueryHistoricData: raw or window-averaged samples
//   - QueryHistoricEnergyPerPeriod: increase of accumulator channels per period
//   - QueryHistoricEnergy: increase of accumulator channels over the range
//
// All failures are returned as *QueryError wrapping a sentinel error.
//
// # Thread Safety
//
// Service, Coercer and Registry are safe for concurrent use.
package timedata
