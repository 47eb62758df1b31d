// Package eventprocessor coordinates the replay of a log and routes its
// packets and records to specialized handlers.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│      eventstream (log packets)          │
//	└─────────────────┬───────────────────────┘
//	                  │
//	                  ▼
//	┌─────────────────────────────────────────┐
//	│   eventprocessor                        │  ← Record routing
//	│   - Feeds packets to the assembler      │
//	│   - Resolves completed records          │
//	│   - Delegates to record handlers        │
//	└─────────┬───────────────────────────────┘
//	          │
//	          ├──→ packets ──────→ assembler
//	          │                    - Pairs entries with exits
//	          │                    - Parks out-of-order packets
//	          │
//	          ├──→ records ──────→ resolver
//	          │                    - Descriptor tables, cwd
//	          │                    - Interned absolute paths
//	          │
//	          └──→ resolved ─────→ RecordHandler(s)
//	               records         - text output, summary, rules,
//	                                 SQLite store, spans
//
// When records are resolved depends on the mode:
//
//	convert      never; records go to the handlers as assembled
//	incremental  as soon as each record completes
//	offline      after the whole log is read, in chronological order
//
// Records still incomplete at the end of the log are handed on last, in
// every mode.
package eventprocessor
