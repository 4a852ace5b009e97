// Package extraction turns free-text chat messages into structured lead
// fields.
//
// An Extractor receives the message and the fields already known for the
// session, and returns the fields found in this message together with a
// confidence delta: the summed weight of fields that were not known before.
// The engine owns merging; extractors never see or mutate session state.
//
// Heuristic is the default Extractor. Its rules are data (Rules), so the
// Portuguese phrasing, legal-area keywords and field weights can be replaced
// without code changes. Func adapts a plain function, which is how tests
// inject failing or slow extractors.
package extraction
