// Package assembler pairs the interleaved entry and exit packets of a trace
// log into completed syscall records.
//
// Each packet is checked against the record currently being built:
//
//	┌──────┐  entry packet         ┌──────────────┐  exit packet   ┌───────────┐
//	│ Init │ ────────────────────▶ │ Accumulating │ ─────────────▶ │ Completed │
//	└──────┘                       └──────┬───────┘                └─────┬─────┘
//	   ▲                                  │ continuation (More)          │
//	   │                                  └──────────┘                   │
//	   └─────────────────────────────────────────────────────────────────┘
//
// Packets that do not continue the current record set it aside:
//
//	NoExit          entry of another thread     current ─▶ awaiting-exit
//	WrongExit       exit of another invocation  current ─▶ awaiting-exit, then NoEntry
//	NoEntry         exit with nothing current   search awaiting-exit, then misordered
//	SaveInEntry     second entry, same key      current ─▶ misordered
//	WrongID         entry of another syscall    current ─▶ misordered
//	NotFirstPacket  continuation out of place   search misordered, then awaiting-exit
//
// The exit of a fork, vfork or clone returning 0 is the child's half of the
// call. It becomes a record of its own and is never matched against the
// parent's entry.
//
// At the end of the log records left in awaiting-exit and misordered are
// reported and moved to the completed pool, which is then sorted by the
// timestamp of each record's first packet.
package assembler
