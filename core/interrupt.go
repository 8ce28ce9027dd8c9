package dialogrt

// Interrupt is the suspension primitive described normatively in §4.6: a
// node suspends by returning one, naming the node it suspended in and the
// value (here, always a prompt string) handed back to the caller. On the
// next invocation the same node re-executes from the start; this time the
// point that previously returned an Interrupt instead receives the
// resume value.
//
// Implementers of node bodies (see graph.go's collectNextSlot) MUST make
// every side effect preceding the interrupt point idempotent or memoized
// in state, since the node re-runs in full on resume (§4.6 rule 4).
type Interrupt struct {
	Node        string
	PromptValue string
}

// PendingInterrupt is the serializable form of an in-flight Interrupt,
// persisted on a checkpoint.Snapshot's PendingInterrupts field so a
// resumed session knows which node to re-enter and what value to inject.
type PendingInterrupt struct {
	Node        string `json:"node"`
	PromptValue string `json:"prompt_value"`
}

// resumeSignal carries the user's reply into a re-executing node. A node
// checks HasValue before doing its suspending work; the first execution
// has HasValue=false and suspends, the replay has HasValue=true and
// proceeds past the interrupt point with Value.
type resumeSignal struct {
	HasValue bool
	Value    string
}

// interrupt is the primitive node bodies call at their suspension point.
// On the first pass (resume.HasValue == false) it returns ok=false and the
// caller must stop and yield promptValue. On replay (resume.HasValue ==
// true) it returns ok=true and resume.Value.
func interrupt(resume resumeSignal, promptValue string) (value string, ok bool) {
	if !resume.HasValue {
		return "", false
	}
	return resume.Value, true
}
