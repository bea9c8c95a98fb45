package promptanalyser

// DefaultLexicon maps each capability tag (matching the strengths vocabulary
// used by the model catalog's descriptors) to the keywords whose presence in
// a prompt suggests that capability is needed.
var DefaultLexicon = map[string][]string{
	"coding": {
		"function", "class", "bug", "stack trace", "compile", "refactor",
		"unit test", "code", "script", "regex", "api", "sql", "debug",
	},
	"reasoning": {
		"why", "analyze", "prove", "derive", "tradeoff", "think through",
		"reason", "explain the logic", "step by step",
	},
	"math": {
		"equation", "integral", "derivative", "theorem", "probability",
		"calculate", "matrix", "solve for",
	},
	"science": {
		"hypothesis", "experiment", "molecule", "reaction", "physics",
		"biology", "chemistry",
	},
	"multimodal": {
		"image", "photo", "picture", "diagram", "screenshot", "chart",
	},
	"long-context": {
		"entire document", "whole codebase", "full transcript", "summarize all",
	},
	"agentic": {
		"plan and execute", "multi-step", "use tools", "autonomously",
	},
	"speed": {
		"quick", "brief", "short answer", "tl;dr",
	},
}
