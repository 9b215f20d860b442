package oracle

// Prompt templates for the four oracle operations. These carry only the
// structural instructions the engine needs to get parseable answers; the
// conversational content lives in the description and context the caller
// supplies.

const assessSystemPrompt = `You classify task requests by execution complexity. Respond with JSON only.`

const assessPromptFmt = `Classify the following task request.

TASK:
%s

CONVERSATION CONTEXT:
%s

Return ONLY a JSON object:
{
  "complexity": "too_simple" | "simple" | "medium" | "complex",
  "reasoning": "one sentence",
  "should_delegate_back": true | false,
  "guidance": "instructions for the caller when delegating back, else empty"
}

Use "too_simple" with should_delegate_back=true when the caller can answer
directly without any task execution.`

const breakdownSystemPrompt = `You decompose tasks into ordered subtasks. Respond with JSON only.`

const breakdownPromptFmt = `Decide whether this task needs to be broken into subtasks.

TASK (nesting level %d):
%s

CONVERSATION CONTEXT:
%s

COMPLETED SIBLING RESULTS:
%s

Return ONLY a JSON object:
{
  "should_breakdown": true | false,
  "direct_execution": true | false,
  "reasoning": "one sentence",
  "subtasks": [
    {
      "description": "what this subtask will do (future tense)",
      "estimated_complexity": "simple" | "moderate" | "complex",
      "dependencies": [0, 1]
    }
  ]
}

Rules: at most %d subtasks; "dependencies" lists zero-based indices of
EARLIER subtasks in this same list; set should_breakdown=false and
direct_execution=true when the task is executable as-is.`

const executeSystemPrompt = `You execute a single task and report the outcome. Respond with JSON only.`

const executePromptFmt = `Execute this task and report the outcome.

TASK:
%s

CONVERSATION CONTEXT:
%s

COMPLETED SIBLING RESULTS:
%s

COLLECTED SUBTASK RESULTS (aggregate these when present):
%s

Return ONLY a JSON object:
{
  "status": "completed" | "failed",
  "result": "what was done, past tense",
  "error": "failure message when status=failed",
  "workflow_steps": ["step descriptions, past tense"],
  "needs_refinement": true | false,
  "failure_kind": "need_user_input" | "needs_research" | "tool_error" | "generic"
}`

const reportSystemPrompt = `You synthesize a final report from collected task results. Respond with JSON only.`

const reportPromptFmt = `Synthesize a final report for this completed task run.

ORIGINAL TASK:
%s

CONVERSATION CONTEXT:
%s

COLLECTED RESULTS:
%s

STATS: %d completed, %d failed.

Return ONLY a JSON object:
{
  "detailed_results": "full narrative",
  "execution_summary": "one paragraph",
  "key_findings": ["notable outcomes"],
  "next_response": "the reply to show the user",
  "workflow_steps": ["executed steps, past tense"]
}`

const planSystemPrompt = `You plan task execution without performing it. Respond with JSON only.`

const planPromptFmt = `Produce an ordered execution plan for this task. Do not execute anything.

TASK:
%s

CONVERSATION CONTEXT:
%s

Return ONLY a JSON object:
{
  "steps": ["future-tense step descriptions, in order"],
  "confirmation_prompt": "question asking the user to confirm the plan"
}`
