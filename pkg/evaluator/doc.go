// Package evaluator implements fully-offline evaluation of targeting rules
// against a user identity.
//
// It operates on a rule-spec snapshot (SpecSet) supplied at bootstrap time:
// an ordered list of rules per gate/config, each rule an ordered list of
// conditions plus a salted pass percentage. Evaluation walks rules in order
// and the first rule whose conditions all pass decides the result through
// deterministic hash bucketing, so the same user always lands in the same
// group.
//
// The condition and operator vocabularies are closed sets mirrored from the
// config service's spec format. The evaluator never invents semantics for a
// kind it cannot replicate offline: segment lists, environment fields and
// unrecognized kinds set RequiresNetwork on the result instead, telling the
// caller to use server-computed values.
//
// Failure policy: any exception during a comparison evaluates the condition
// to false. A malformed rule degrades a single condition, never the SDK.
//
// # Usage
//
//	specs, err := evaluator.ParseSpecSet(snapshot)
//	if err != nil {
//		// snapshot unusable, stay on network values
//	}
//	res := specs.EvalGate(user, "new_checkout")
//	if !res.RequiresNetwork && res.Pass {
//		// gate is on for this user
//	}
package evaluator
