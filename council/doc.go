// Package council implements the orchestration controller: a per-turn state
// machine that sequences the council agents and streams their output.
//
// A run moves through
//
//	Received → Preprocessed → Planning → (Debate | ParallelExecution) →
//	Reviewing → [Refining]* → Finalizing → Done
//
// with two fast paths from Preprocessed straight to Done (media requests and
// trivial chat turns) and Errored for runs cut short by cancellation. Agent
// failures never abort a run: each step has a fallback and a warning event.
// Every run emits exactly one event with Final set.
package council
