// Package harness runs workflow scenarios against a real engine.
//
// A scenario deploys one definition, drives a single instance through a
// list of steps and checks the outcome. Every run uses a fresh in-memory
// store, a deterministic clock and sequential ids, so the recorded trace is
// byte-stable and can be compared against a golden file.
//
// # Scenario Format
//
//	name: approval
//	description: "Approved requests end on the happy path"
//	definition: approval.yaml        # relative to the scenario file
//	steps:
//	  - start:
//	      data: { amount: 250 }
//	    expect:
//	      open: [review]
//	  - send:
//	      activity: review
//	      data: { approved: true }
//	    expect:
//	      ended: true
//	      variables: { approved: true }
//	  - cancel: {}
//	    expect:
//	      error: ILLEGAL_STATE
//	assertions:
//	  - type: trace_order
//	    activities: [start, review, approved]
//
// Steps are start, send, cancel, move and set. The first step must be a
// start. An expect clause checks the instance after the step: whether it
// ended, which activities are open (in tree order) and a subset of the
// root variables. Setting expect.error makes the step expect that engine
// error code instead.
//
// # Assertion Types
//
//   - trace_contains: an event (default "starting") occurred for an activity
//   - trace_order: activities started in the given order
//   - trace_count: an activity started exactly count times
//   - final_state: ended, open activities and variables after the last step
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/approval.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
