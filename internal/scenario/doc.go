// Package scenario runs conformance scenarios against a document store.
//
// A scenario is a YAML script of commits and reads with expected outcomes:
//
//	name: conflicting-writers
//	description: the second writer at version 2 loses
//	steps:
//	  - commit: {id: doc1, version: 1, type: json0, data: {x: 1}}
//	    expect: {ok: true}
//	  - commit: {id: doc1, version: 2, data: {x: 2}}
//	    expect: {ok: true}
//	  - commit: {id: doc1, version: 2, data: {x: 3}}
//	    expect: {ok: false}
//	  - get_snapshot: {id: doc1}
//	    expect: {version: 2, data: {x: 2}}
//
// Op payloads are built with a fixed source id and a deterministic sequence,
// so a scenario always produces the same trace. RunWithGolden compares that
// trace with testdata/golden/<name>.golden.
package scenario
