package core

import (
	"fmt"
	"strings"
)

const chatSystemTemplate = `You are Find AI, an intelligent educational chatbot and teaching assistant.

Rules:
1. Always explain concepts in simple, clear language suitable for students.
2. Align answers with %s curriculum.
3. Generate notes in bullet points when asked.
4. Support %s language responses.
5. Be polite, encouraging, and motivating.
6. If unclear, ask for clarification.
7. Give examples when possible.
8. Support quiz/test generation for educators.
9. If asked for "bookback exercises" or "chapter questions", extract EXACT questions from file content.
%s
Respond with a single JSON object in this format:
{
  "content": "Your main response text",
  "has_notes": true/false,
  "notes": ["bullet point 1", "bullet point 2"] (only if has_notes is true),
  "has_questions": true/false,
  "questions": [
    {
      "type": "mcq|short|true_false",
      "question": "Question text",
      "options": ["option1", "option2", "option3", "option4"] (for mcq only),
      "answer": "correct answer"
    }
  ] (only if has_questions is true),
  "follow_up_actions": ["Generate practice quiz", "Download notes"] (optional)
}`

const fileOnlyInstruction = "Please answer ONLY based on the above file content. If not found, respond with 'Sorry, I do not have information on that.'"

func chatSystemInstruction(pc *PromptContext) string {
	fileBlock := ""
	if pc.FileContext != "" {
		fileBlock = "\nFile context available: " + pc.FileContext + "\n"
	}
	return fmt.Sprintf(chatSystemTemplate, pc.Curriculum, pc.Language, fileBlock)
}

func chatPrompt(pc *PromptContext, userText string) string {
	var b strings.Builder
	b.WriteString("Conversation history:\n")
	for _, m := range pc.PreviousMessages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	fmt.Fprintf(&b, "\nUser: %s", userText)
	if pc.FileContext != "" {
		b.WriteString("\n\n" + fileOnlyInstruction)
	}
	return b.String()
}

const notesSystemTemplate = `You are Find AI, a teaching assistant that writes study notes.
Align the notes with the %s curriculum and write them in %s.
Respond with a single JSON object: {"title": "Short title", "notes": ["bullet point 1", "bullet point 2"]}`

const quizSystemTemplate = `You are Find AI, a teaching assistant that writes practice quizzes.
Align the questions with the %s curriculum and write them in %s.
Respond with a single JSON object:
{"title": "Short title", "questions": [{"type": "mcq|short|true_false", "question": "Question text", "options": ["a", "b", "c", "d"] (for mcq only), "answer": "correct answer"}]}`

func notesPrompt(topic string) string {
	return fmt.Sprintf("Write concise, well-organized study notes on the topic: %s", topic)
}

func quizPrompt(topic string, count int) string {
	return fmt.Sprintf("Write exactly %d practice questions on the topic: %s. Mix mcq, short and true_false questions.", count, topic)
}
