// Package ir provides the plain data types shared by every layer of weave.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps IR the foundational
// layer with no circular dependencies.
//
// Two families of types live here:
//   - Definition sources (WorkflowSource, ActivitySource, TransitionSource):
//     the raw, uncompiled description of a process graph as it is deployed
//     and stored.
//   - Runtime state (WorkflowInstance, ActivityInstance, Lock): the mutable,
//     persisted execution tree of one process instance.
//
// Key design constraints:
//   - Instances reference definitions by id only, never by pointer
//   - All JSON tags use snake_case
//   - Clone produces fully independent copies so stores never share memory
//     with the engine
package ir
