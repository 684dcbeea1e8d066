// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package agent provides the agent execution core and the orchestration engine
for AgentCouncil.

# Overview

Every agent is a BaseAgent driving a pluggable Behavior. The BaseAgent owns
the mailbox loop: it drains one message at a time, dispatches by message type
and, when nothing arrived and the agent is idle, runs one autonomous cycle.
Reserved message types are handled by the core itself:

	task_assign     -> capability check, ExecuteTask, task_complete / task_failed
	proposal        -> EvaluateProposal, vote reply on vote.<proposal_id>
	state_update    -> merge into local knowledge
	emergency_halt  -> stop the loop and go offline

Everything else is handed to Behavior.OnMessage. Hook errors and panics are
caught at the loop boundary and never terminate the loop.

# Engine

Engine owns the MessageHub, the ConsensusManager and the decision Framework.
It keeps the agent registry in registration order, starts one goroutine per
agent loop, assigns tasks to the most expert idle capable agent and runs
collaborative decisions as a message round-trip:

	leader --proposal--> voters --vote--> vote.<id> subscriber --> tally

Voters that do not reply within the vote timeout abstain.

# Lifecycle

	stopped --Start--> running --Stop / emergency_halt / ctx cancel--> stopped

Agent status follows idle <-> busy, with offline terminal for the session.
A new Start resets the status to idle.
*/
package agent
