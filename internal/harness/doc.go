// Package harness runs reconciliation scenarios against a fresh store.
//
// # Scenario Format
//
// Scenarios are YAML files. The schema is inline CUE; each pass is a desired
// graph document applied in order against the state the previous passes
// left behind.
//
//	name: create-workflow
//	description: "What this scenario validates"
//	graph: workflow
//	schema: |
//	  graph: workflow: {
//	    collection: instance: { singleton: true, match: ["eventId"] }
//	    collection: node: { refs: { instanceId: "instance" } }
//	  }
//	actor: "user:5"
//	context: insertOrUpdateWorkflowDef
//	passes:
//	  - name: create
//	    transaction: true
//	    desired:
//	      scope: { eventId: 7 }
//	      instance: [{ id: -1, status: open }]
//	      node: [{ id: -1, instanceId: -1, title: Review }]
//	    expect: { changes: 2 }
//	assertions:
//	  - type: change_count
//	    object_type: node
//	    action: insert
//	    count: 1
//	  - type: final_state
//	    collection: node
//	    where: { title: Review }
//	    expect: { instanceId: 1 }
//
// # Assertion Types
//
//   - change_count: counts change log entries by pass, action, and object type
//   - change_order: checks "action object_type" pairs appear in log order
//   - final_state: loads stored records by field equality and checks fields
//   - chain_valid: verifies the change log hash chain
//
// # Deterministic Testing
//
// Pass IDs are pass-1, pass-2, ... in scenario order and the change log
// clock starts at testutil.Epoch, advancing one second per pass. Together
// with a fresh in-memory SQLite database this makes the change log, hashes
// included, identical across runs, so it can be compared against golden
// files.
package harness
