package council

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/councild/councild/models"
)

const (
	// historyAnswerLimit bounds how much of a prior synthesized answer is
	// replayed as context.
	historyAnswerLimit = 200
	// promptResponseLimit bounds each Stage-1 response quoted in the
	// synthesis prompt.
	promptResponseLimit = 500
)

// FormatHistory renders the most recent turns, oldest first, as plain-text
// context for the stage prompts. Assistant answers are truncated to keep the
// window bounded.
func FormatHistory(turns []models.Turn, window int) string {
	if window <= 0 || len(turns) == 0 {
		return ""
	}
	if len(turns) > window {
		turns = turns[len(turns)-window:]
	}

	var b strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&b, "User: %s\n", turn.UserContent)

		var final FinalAnswer
		if err := json.Unmarshal(turn.Stage3, &final); err != nil || final.Response == "" {
			continue
		}
		fmt.Fprintf(&b, "Assistant: %s\n", truncate(final.Response, historyAnswerLimit))
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

// Stage1Prompt asks one council model to answer the user's question,
// continuing the conversation when history is present.
func Stage1Prompt(query, history string) string {
	if history == "" {
		return fmt.Sprintf("You are a helpful AI assistant.\n\n%s", query)
	}
	return fmt.Sprintf(`You are a helpful AI assistant continuing a conversation.

Previous conversation:
%s

Please continue the conversation naturally, considering the context above.

%s`, history, query)
}

// RankingPrompt asks a reviewer to evaluate and rank the anonymized
// responses. The FINAL RANKING format is load-bearing: ParseRanking depends
// on it.
func RankingPrompt(query, history string, responses []LabeledResponse) string {
	var quoted strings.Builder
	for i, r := range responses {
		if i > 0 {
			quoted.WriteString("\n\n")
		}
		fmt.Fprintf(&quoted, "%s:\n%s", r.Label, r.Response)
	}

	contextNote := ""
	if history != "" {
		contextNote = fmt.Sprintf(`

IMPORTANT: This is part of an ongoing conversation.
Here is the conversation history for context:
%s

Consider how well each response continues the conversation naturally.`, history)
	}

	return fmt.Sprintf(`You are evaluating different responses to the following question:

Question: %s%s

Here are the responses from different models (anonymized):

%s

Your task:
1. First, evaluate each response individually. For each response, explain what it does well and what it does poorly.
2. Consider how well each response understands and continues from the conversation context (if provided).
3. Then, at the very end of your response, provide a final ranking.

IMPORTANT: Your final ranking MUST be formatted EXACTLY as follows:
- Start with the line "FINAL RANKING:" (all caps, with colon)
- Then list the responses from best to worst as a numbered list
- Each line should be: number, period, space, then ONLY the response label (e.g., "1. Response A")
- Do not add any other text or explanations in the ranking section

Now provide your evaluation and ranking:`, query, contextNote, quoted.String())
}

// SynthesisPrompt asks the chairman to produce the final answer from the
// deanonymized Stage-1 responses and the consensus ranking.
func SynthesisPrompt(query, history string, stage1 []ModelResponse, agg AggregateRanking) string {
	var responses strings.Builder
	for _, r := range stage1 {
		if !r.OK {
			continue
		}
		if responses.Len() > 0 {
			responses.WriteString("\n\n")
		}
		fmt.Fprintf(&responses, "Model: %s\nResponse: %s", r.Model, truncate(r.Response, promptResponseLimit))
	}

	var consensus strings.Builder
	for i, e := range agg.Entries {
		fmt.Fprintf(&consensus, "%d. %s (peer score %d across %d rankings)\n", i+1, e.Model, e.Score, e.RankingsCount)
	}

	contextSection := ""
	if history != "" {
		contextSection = fmt.Sprintf("\nCONVERSATION HISTORY:\n%s\n", history)
	}

	return fmt.Sprintf(`You are the Chairman of an LLM Council. Multiple AI models have provided responses to a user's question, and then ranked each other's responses.
%s
CURRENT QUESTION: %s

STAGE 1 - Individual Responses:
%s

STAGE 2 - Consensus Ranking (best first, advisory):
%s
Your task as Chairman is to synthesize all of this information into a single, comprehensive, accurate answer to the user's current question.

IMPORTANT: Consider the conversation history (if provided) and make sure your response:
1. Naturally continues from the previous conversation
2. Acknowledges or builds upon any relevant context
3. Provides a coherent answer that fits within the ongoing dialogue
4. Does not repeat information unnecessarily

Provide a clear, well-reasoned final answer that represents the council's collective wisdom and continues the conversation naturally:`, contextSection, query, responses.String(), consensus.String())
}

// TitlePrompt asks a small model for a short conversation title.
func TitlePrompt(query string) string {
	return fmt.Sprintf(`Generate a very short title (3-5 words maximum) that summarizes the following question.
The title should be concise and descriptive. Do not use quotes or punctuation in the title.

Question: %s

Title:`, query)
}
