package fix

import "fmt"

// QuestionSentinel is sent by a button-based front-end in place of a
// spoken question; the runner then asks for the question itself.
const QuestionSentinel = "__question__"

const (
	msgAskQuestion    = "What would you like to know?"
	msgStopping       = "Stopping the fix process."
	msgNoFixesApplied = "No fixes were applied."
	msgNoAnswerer     = "Sorry, I cannot answer questions right now because the API is not configured."
	msgAnswerFailed   = "Sorry, I couldn't answer that. Let me ask again about this step."
	msgNoResponse     = "I didn't hear a response, so I'm stopping the fix process."
)

func msgNoSteps(diagnosis string) string {
	return fmt.Sprintf("I found an issue: %s. However, there are no automated fix steps available. "+
		"You may need to resolve this manually.", diagnosis)
}

func msgAnnounce(diagnosis string, n int) string {
	return fmt.Sprintf("I found the issue: %s. I have %d steps to fix it. Let's go through each one.", diagnosis, n)
}

func msgPrompt(step Step) string {
	return fmt.Sprintf("Step %d: I want to %s. Shall I proceed? Say yes, no, or ask me a question.", step.Index, step.Description)
}

func msgExecuting(n int) string { return fmt.Sprintf("Executing step %d...", n) }

func msgStepDone(n int, msg string) string { return fmt.Sprintf("Step %d complete. %s", n, msg) }

func msgStepFailed(n int, msg string) string {
	return fmt.Sprintf("Step %d failed: %s. Moving on.", n, msg)
}

func msgSkipping(n int) string { return fmt.Sprintf("Skipping step %d.", n) }

func msgAllDone(applied, total int) string {
	return fmt.Sprintf("All done! %d of %d steps were applied. The fix process is complete.", applied, total)
}

func summaryLine(applied, total int) string {
	return fmt.Sprintf("%d of %d steps applied", applied, total)
}
