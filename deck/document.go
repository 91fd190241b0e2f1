package deck

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hupe1980/deckhand/tool"
	"gopkg.in/yaml.v3"
)

const (
	// InitMarker expands to the initialization-context hint.
	InitMarker = "deckhand://snippets/init"
	// RespondMarker expands to the completion-tool instruction.
	RespondMarker = "deckhand://snippets/respond"
)

const initSnippet = "Before the conversation starts, a `" + tool.InitToolName + "` tool result is injected. " +
	"It carries the run id and the input you were given. Read it instead of asking for that context; " +
	"never call `" + tool.InitToolName + "` yourself."

const respondSnippet = "When you are finished, always call the `" + tool.RespondToolName + "` tool with your final " +
	"answer as its `payload`. Do not end the conversation with plain text."

var embedPattern = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)\)`)

// frontMatter is the recognized header of a deck or card document.
type frontMatter struct {
	Label        string        `yaml:"label"`
	ModelParams  ModelParams   `yaml:"modelParams"`
	Guardrails   Guardrails    `yaml:"guardrails"`
	InputSchema  string        `yaml:"inputSchema"`
	OutputSchema string        `yaml:"outputSchema"`
	Actions      []tool.Action `yaml:"actions"`
	Embeds       []string      `yaml:"embeds"`
	Handlers     Handlers      `yaml:"handlers"`
	StartMode    StartMode     `yaml:"startMode"`
	TestDecks    []DeckRef     `yaml:"testDecks"`
	GraderDecks  []DeckRef     `yaml:"graderDecks"`
}

// document is a parsed but unresolved deck or card file.
type document struct {
	meta           frontMatter
	body           string
	embeds         []string // body embeds in order, then front matter embeds
	respondEnabled bool
	initHint       bool
}

// splitFrontMatter separates a leading "---" fenced YAML block from the body.
// A document without an opening fence is all body.
func splitFrontMatter(data []byte) (header, body string, err error) {
	text := strings.TrimPrefix(string(data), "\uFEFF")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.SplitAfter(text, "\n")
	if strings.TrimRight(lines[0], " \t\n") != "---" {
		return "", text, nil
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], " \t\n") == "---" {
			return strings.Join(lines[1:i], ""), strings.Join(lines[i+1:], ""), nil
		}
	}
	return "", "", errors.New("unterminated front matter")
}

// parseDocument decodes the header, expands synthetic markers and collects
// embed targets. Embed references are removed from the body; their content is
// contributed through the loaded cards.
func parseDocument(data []byte) (*document, error) {
	header, body, err := splitFrontMatter(data)
	if err != nil {
		return nil, err
	}
	doc := &document{}
	if strings.TrimSpace(header) != "" {
		if err := yaml.Unmarshal([]byte(header), &doc.meta); err != nil {
			return nil, fmt.Errorf("decode front matter: %w", err)
		}
	}

	seen := map[string]bool{}
	addEmbed := func(target string) {
		if !seen[target] {
			seen[target] = true
			doc.embeds = append(doc.embeds, target)
		}
	}

	expanded := embedPattern.ReplaceAllStringFunc(body, func(m string) string {
		target := embedPattern.FindStringSubmatch(m)[2]
		switch target {
		case InitMarker:
			doc.initHint = true
			return initSnippet
		case RespondMarker:
			doc.respondEnabled = true
			return respondSnippet
		default:
			addEmbed(target)
			return ""
		}
	})
	for _, target := range doc.meta.Embeds {
		switch target {
		case InitMarker:
			doc.initHint = true
		case RespondMarker:
			doc.respondEnabled = true
		default:
			addEmbed(target)
		}
	}
	doc.body = strings.TrimSpace(expanded)
	return doc, nil
}

func joinBlocks(parts []string) string {
	return strings.Join(parts, "\n\n")
}
