package genai

import (
	"fmt"
	"strings"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/runtime"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/settings"
)

// SystemPrompt is the Nexus Core persona.
const SystemPrompt = `You are "Nexus Core".
You receive HTML/CSS/JS code and a voice command.

YOUR TASKS:
1. FIX or EXTEND the code according to the command.
2. PRESERVE working functionality (do not remove animations, scripts or styles unless asked).
3. USE Tailwind CSS for styling.
4. WRITE BEAUTIFUL, MODERN CODE (Glassmorphism, Neon, Cyberpunk).

ANSWER AS JSON:
{
  "summary": "Short first-person description of the changes, suitable for speech",
  "html": "<!DOCTYPE html>... full code ..."
}`

const learningHeader = "EXTRACTED FAILURE EXPERIENCE:"

// LearningContext renders recent failures as a prompt section. It is empty
// when there are none.
func LearningContext(failures []string) string {
	if len(failures) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n")
	b.WriteString(learningHeader)
	for _, f := range failures {
		b.WriteString("\n- Error: ")
		b.WriteString(f)
	}
	return b.String()
}

// PIIContext renders the user's contact details, if any.
func PIIContext(s settings.AppSettings) string {
	if s.UserEmail == "" && s.UserPhoneNumber == "" {
		return ""
	}
	out := "\n\nUSER INFO:"
	if s.UserEmail != "" {
		out += " Email: " + s.UserEmail
	}
	if s.UserPhoneNumber != "" {
		out += " Phone: " + s.UserPhoneNumber
	}
	return out
}

func evolveSystem(in Instruction) string {
	return SystemPrompt + "\n\n" + LearningContext(in.Experience)
}

func evolveText(code string, in Instruction, s settings.AppSettings) string {
	pii := PIIContext(s)
	if len(in.Audio) > 0 {
		text := fmt.Sprintf("SOURCE CODE:\n%s\n\nCOMMAND (AUDIO):%s", code, pii)
		if in.Text != "" {
			text += "\n\nCOMMAND (TEXT): " + in.Text
		}
		return text
	}
	return fmt.Sprintf("SOURCE CODE:\n%s\n\nCOMMAND (TEXT): %s%s", code, in.Text, pii)
}

func improveText(code string, el runtime.ElementSelection, instruction string, s settings.AppSettings) string {
	if strings.TrimSpace(instruction) == "" {
		instruction = DefaultImproveInstruction
	}
	prompt := fmt.Sprintf(`
ELEMENT CHANGE:
Tag: %s
Selector: %s

INSTRUCTION: %q
RETURN THE FULL PAGE HTML AS JSON {summary, html}
`, el.TagName, el.Selector, instruction)
	return fmt.Sprintf("FULL CODE:\n%s\n\n%s%s", code, prompt, PIIContext(s))
}

func reportText(code string) string {
	return "MAKE A REPORT ON THIS CODE:\n" + code
}

func repairText(code, errorMessage string) string {
	return fmt.Sprintf(`RECOVERY PROTOCOL: a crash was detected: %q.
Your task is to fix the code by removing the cause of the failure (check the React imports and hook syntax in particular).
Return JSON {summary, html}. Use ONLY React 18.2.0.
SOURCE CODE:
%s`, errorMessage, code)
}
