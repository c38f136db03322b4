package models

const (
	ContextSeparator = "\n---\n"
	ThinkTag         = `(?s)<think>.*?</think>`

	// NoSourcesDisclosure must appear verbatim in the fallback prompt.
	NoSourcesDisclosure = "No relevant sources were found in the research repository"
)

var (
	// RAGPromptTemplate takes the numbered context block and the question.
	RAGPromptTemplate = `You are a research assistant for a university research repository.
Answer the question using ONLY the context below.

<context>
%s
</context>

Rules:
- Cite the sources you use with their markers, e.g. [Source 1].
- Mention the page numbers the information comes from.
- If the context does not contain enough information to answer, say so plainly instead of guessing.

Question: %s
`

	// NoContextPromptTemplate takes the question.
	NoContextPromptTemplate = `You are a research assistant for a university research repository.
` + NoSourcesDisclosure + ` for this question.
Answer from your general knowledge, and tell the user clearly that the answer is not based on any document in the repository.

Question: %s
`

	// SummaryPromptTemplate takes the document excerpts in page order.
	SummaryPromptTemplate = `<document>
%s
</document>
Write a concise academic summary of the document above in one or two paragraphs.
Cover the research question, the method and the main findings. Answer only with the summary and nothing else.
`
)
