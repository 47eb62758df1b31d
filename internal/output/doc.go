// Package output renders resolved syscall records.
//
//	resolved record ─┬─▶ TextFormatter   one line per record
//	                 ├─▶ Summary         counters, written once at the end
//	                 └─▶ OTELFormatter   one span per record, grouped
//	                                     under one span per process
//
// Formatters are pure presentation: they read records after the resolver
// is done with them and never change them. Rule evaluation, time
// conversion and path lookup are delegated to the rules, timesync and
// pathtable packages.
//
// Every formatter implements RecordHandler.
package output
