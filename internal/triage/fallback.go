package triage

import (
	"log"

	"infomary-backend/internal/models"
)

// Values delivered in place of a collaborator result that could not be
// obtained. These apology strings are the only failure text a user ever sees.
const (
	DefaultCategory = models.CategoryMedicalAdvice

	AdviceUnavailable = "I apologize, but I'm having trouble generating advice right now. Please try again."
	AnswerUnavailable = "I apologize, but I'm having trouble processing your request. Please try again."
	NotTrainedAnswer  = "Sorry, I am not trained to answer this query or couldn't find relevant information."

	AdviceBanner = "Here's a summary of your concerns and some advice:\n"
)

type operation string

const (
	opClassify operation = "classify"
	opGenerate operation = "generate questions"
	opValidate operation = "validate question"
	opAdvise   operation = "synthesize advice"
	opAnswer   operation = "direct answer"
)

// softFail maps a failed collaborator call to its documented default.
func softFail[T any](op operation, v T, err error, fallback T) T {
	if err != nil {
		log.Printf("triage: %s failed: %v", op, err)
		return fallback
	}
	return v
}
