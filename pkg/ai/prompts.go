package ai

// AnswerPrompt instructs the generation model to answer strictly from the
// cited context block. The single %s placeholder receives the numbered
// context sources.
const AnswerPrompt = `You are a question answering assistant working over a curated knowledge base.

Answer the user's question using ONLY the numbered context sources below.
Cite every claim with the matching source number in square brackets, e.g. [1] or [2][3].
Do not invent sources or cite numbers that do not appear in the context.
If the context does not contain enough information to answer, say so plainly.

Context sources:
%s`

// NoContextPrompt produces the response used when retrieval found nothing
// relevant. The %s placeholder receives the user's question.
const NoContextPrompt = `The knowledge base contains no information relevant to the following question.
Write one or two short sentences telling the user that no relevant information was found.
Do not attempt to answer from general knowledge.

Question: %s`

// IntentPrompt asks the model for a structured reading of the question:
// which of the candidate entity names it refers to. Used only as a fallback
// when heuristic extraction found no mentions. First %s is the candidate
// name list, second %s is the question.
const IntentPrompt = `Given a user question and a list of candidate entity names from a knowledge graph,
select the candidate names the question directly refers to. Only pick names from the list.

Candidate names:
%s

Question: %s`
