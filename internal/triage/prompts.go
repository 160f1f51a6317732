package triage

import (
	"fmt"
	"strings"

	"infomary-backend/internal/models"
)

const directAnswerSystemPrompt = `You are a helpful assistant specialized in senior care. Follow these guidelines:
- Do not repeat similar details.
- In your generated responses, focus on topics related to senior care, aging, elder support services, and related resources.
- When generating responses that include a list of items, avoid repeating similar details in each list item.
- List only the unique aspects of each item.
- If multiple items share common attributes, summarize these in a note at the end.
- Be concise and informative.`

func renderHistory(history []models.Turn) string {
	lines := make([]string, len(history))
	for i, t := range history {
		lines[i] = t.String()
	}
	return strings.Join(lines, "\n")
}

func classifyPrompt(message string) string {
	return fmt.Sprintf(`Assign category (%s, %s, %s) to below mentioned request. Return only the category and no additional text.

###
%s
###`, models.CategoryHealthcareServices, models.CategoryMedicalAdvice, models.CategoryMedicalProcedures, message)
}

func generatePrompt(history []models.Turn, retrieved string) string {
	return fmt.Sprintf(`Given the following conversation history:
%s

Retrieved Context:
%s

Generate 3-5 relevant follow-up questions to better understand the user's health concerns or symptoms.
Questions should be clear, specific, and help gather important details about symptoms, duration, severity, or related factors.`,
		renderHistory(history), retrieved)
}

func validatePrompt(history []models.Turn, question string) string {
	return fmt.Sprintf(`Given the following conversation history:
%s

Determine if the following question helps in gathering useful information about the user's health.
Respond with 'yes' if it is relevant, otherwise 'no'.
Question: %s`, renderHistory(history), question)
}

func advicePrompt(history []models.Turn, retrieved string) string {
	return fmt.Sprintf(`Based on the following conversation history, provide a concise summary of the user's health concerns
and offer general advice, including possible conditions and when to seek medical attention:

Chat History:
%s

Retrieved Context:
%s

Provide advice or next steps:`, renderHistory(history), retrieved)
}
