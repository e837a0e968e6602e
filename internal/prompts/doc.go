// Package prompts assembles the messages sent to the model.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation and can be validated by tests.
// User-editable persona text lives in the workspace bootstrap files
// (AGENTS.md, SOUL.md and friends), which the [Builder] reads on every
// turn so edits take effect without a restart.
//
// Convention: each prompt section gets its own file (identity.go,
// toolcall.go) with an exported function that accepts the dynamic parts
// and returns the fully interpolated text.
package prompts
