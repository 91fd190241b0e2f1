package deck

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hupe1980/deckhand/logging"
	"github.com/hupe1980/deckhand/schema"
	"github.com/hupe1980/deckhand/tool"
)

// Options configure a Loader.
type Options struct {
	Logger logging.Logger
}

// Loader reads deck documents, resolves their embedded cards and produces
// flattened Decks. A Loader holds no state between Load calls.
type Loader struct {
	logger logging.Logger
}

// NewLoader creates a Loader.
func NewLoader(optFns ...func(o *Options)) *Loader {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Loader{logger: opts.Logger}
}

// loadSession carries the per-Load card cache. Cards are shared by path
// within one Load and dropped when it completes.
type loadSession struct {
	ctx    context.Context
	logger logging.Logger
	root   string
	cards  map[string]*Card
}

// Load reads the deck at path and every document it embeds. Any failure is
// fatal: no partially loaded deck is returned.
func (l *Loader) Load(ctx context.Context, path string) (*Deck, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &DocumentError{Path: path, Err: err}
	}
	s := &loadSession{ctx: ctx, logger: l.logger, root: filepath.Dir(abs), cards: map[string]*Card{}}

	doc, err := s.read(abs)
	if err != nil {
		return nil, err
	}

	own := tool.NewRegistry()
	for _, a := range doc.meta.Actions {
		if err := own.Add(s.resolveAction(abs, a), s.display(abs)); err != nil {
			return nil, err
		}
	}

	embeds, err := s.loadEmbeds(abs, doc, []string{abs})
	if err != nil {
		return nil, err
	}
	cards := flatten(embeds)

	registry := tool.NewRegistry()
	for _, c := range cards {
		registry.MergeActions(c.Actions)
	}
	registry.Merge(own)

	input, inputModule, err := s.loadSchema(abs, doc.meta.InputSchema, true)
	if err != nil {
		return nil, err
	}
	output, outputModule, err := s.loadSchema(abs, doc.meta.OutputSchema, true)
	if err != nil {
		return nil, err
	}
	// Card fragments first so the deck's own schema wins kind conflicts.
	var inputs, outputs []*schema.Schema
	for _, c := range cards {
		inputs = append(inputs, c.InputFragment)
		outputs = append(outputs, c.OutputFragment)
	}
	inputs, outputs = append(inputs, input), append(outputs, output)

	d := &Deck{
		Path:           abs,
		Label:          doc.meta.Label,
		Body:           doc.body,
		Actions:        registry.List(),
		InputSchema:    schema.MergeAll(inputs...),
		OutputSchema:   schema.MergeAll(outputs...),
		Cards:          cards,
		Schemas:        modules(inputModule, outputModule),
		ModelParams:    doc.meta.ModelParams,
		Guardrails:     doc.meta.Guardrails,
		StartMode:      doc.meta.StartMode,
		RespondEnabled: doc.respondEnabled,
		InitHint:       doc.initHint,
	}
	for _, c := range cards {
		d.RespondEnabled = d.RespondEnabled || c.RespondEnabled
		d.InitHint = d.InitHint || c.InitHint
	}
	if err := s.finishDeck(d, doc); err != nil {
		return nil, err
	}

	l.logger.Debug("deck.loaded", "path", abs, "cards", len(cards), "actions", len(d.Actions))
	return d, nil
}

// finishDeck validates and resolves the deck-only header fields.
func (s *loadSession) finishDeck(d *Deck, doc *document) error {
	fail := func(format string, args ...any) error {
		return &DocumentError{Path: d.Path, Err: fmt.Errorf(format, args...)}
	}

	switch d.StartMode {
	case "":
		d.StartMode = StartModeAssistant
	case StartModeAssistant, StartModeUser:
	default:
		return fail("startMode %q: must be %q or %q", d.StartMode, StartModeAssistant, StartModeUser)
	}
	if g := d.Guardrails; g.MaxDepth < 0 || g.MaxPasses < 0 || g.TimeoutMs < 0 {
		return fail("guardrails must not be negative")
	}

	if h := doc.meta.Handlers.OnError; h != nil {
		if strings.TrimSpace(h.Path) == "" {
			return fail("handlers.onError: missing path")
		}
		d.Handlers.OnError = &HandlerRef{Path: resolvePath(d.Path, h.Path)}
	}
	if h := doc.meta.Handlers.OnInterval; h != nil {
		if strings.TrimSpace(h.Path) == "" {
			return fail("handlers.onInterval: missing path")
		}
		if h.DelayMs < 0 {
			return fail("handlers.onInterval: delayMs must not be negative")
		}
		d.Handlers.OnInterval = &IntervalHandler{Path: resolvePath(d.Path, h.Path), DelayMs: h.DelayMs}
	}

	var err error
	if d.TestDecks, err = resolveRefs(d.Path, "testDecks", doc.meta.TestDecks); err != nil {
		return err
	}
	if d.GraderDecks, err = resolveRefs(d.Path, "graderDecks", doc.meta.GraderDecks); err != nil {
		return err
	}
	return nil
}

func resolveRefs(docPath, key string, refs []DeckRef) ([]DeckRef, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	out := make([]DeckRef, 0, len(refs))
	for i, ref := range refs {
		if strings.TrimSpace(ref.Path) == "" {
			return nil, &DocumentError{Path: docPath, Err: fmt.Errorf("%s[%d]: missing path", key, i)}
		}
		ref.Path = resolvePath(docPath, ref.Path)
		if ref.ID == "" {
			ref.ID = strings.TrimSuffix(filepath.Base(ref.Path), filepath.Ext(ref.Path))
		}
		out = append(out, ref)
	}
	return out, nil
}

// loadCard loads one embedded document. stack holds the documents currently
// being loaded, outermost first.
func (s *loadSession) loadCard(path string, stack []string) (*Card, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	if slices.Contains(stack, path) {
		chain := make([]string, 0, len(stack)+1)
		for _, p := range append(slices.Clone(stack), path) {
			chain = append(chain, s.display(p))
		}
		return nil, &CycleError{Chain: chain}
	}
	if c, ok := s.cards[path]; ok {
		return c, nil
	}

	doc, err := s.read(path)
	if err != nil {
		return nil, err
	}
	if !doc.meta.Handlers.Empty() {
		return nil, &HandlerInCardError{Path: s.display(path)}
	}

	registry := tool.NewRegistry()
	for _, a := range doc.meta.Actions {
		if err := registry.Add(s.resolveAction(path, a), s.display(path)); err != nil {
			return nil, err
		}
	}

	embeds, err := s.loadEmbeds(path, doc, append(slices.Clone(stack), path))
	if err != nil {
		return nil, err
	}

	input, inputModule, err := s.loadSchema(path, doc.meta.InputSchema, false)
	if err != nil {
		return nil, err
	}
	output, outputModule, err := s.loadSchema(path, doc.meta.OutputSchema, false)
	if err != nil {
		return nil, err
	}

	c := &Card{
		Path:           path,
		Label:          doc.meta.Label,
		Body:           doc.body,
		Actions:        registry.List(),
		Embeds:         embeds,
		InputFragment:  input,
		OutputFragment: output,
		Schemas:        modules(inputModule, outputModule),
		RespondEnabled: doc.respondEnabled,
		InitHint:       doc.initHint,
	}
	s.cards[path] = c
	return c, nil
}

func (s *loadSession) loadEmbeds(from string, doc *document, stack []string) ([]*Card, error) {
	embeds := make([]*Card, 0, len(doc.embeds))
	for _, target := range doc.embeds {
		c, err := s.loadCard(resolvePath(from, target), stack)
		if err != nil {
			return nil, err
		}
		embeds = append(embeds, c)
	}
	return embeds, nil
}

func (s *loadSession) read(path string) (*document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DocumentError{Path: s.display(path), Err: err}
	}
	doc, err := parseDocument(data)
	if err != nil {
		return nil, &DocumentError{Path: s.display(path), Err: err}
	}
	return doc, nil
}

// loadSchema loads a schema module referenced from docPath and returns its
// resolved path. A missing module is fatal for decks (required) and leaves the
// fragment absent for cards; the path is still returned so creating the
// module later is noticed.
func (s *loadSession) loadSchema(docPath, ref string, required bool) (*schema.Schema, string, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, "", nil
	}
	module := resolvePath(docPath, ref)
	sc, err := schema.LoadFile(module)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("deck.schema.missing", "card", docPath, "module", module)
			return nil, module, nil
		}
		return nil, "", &SchemaError{Path: s.display(docPath), Module: s.display(module), Err: err}
	}
	return sc, module, nil
}

func modules(paths ...string) []string {
	var out []string
	for _, p := range paths {
		if p != "" && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func (s *loadSession) resolveAction(docPath string, a tool.Action) tool.Action {
	if strings.TrimSpace(a.Path) != "" {
		a.Path = resolvePath(docPath, a.Path)
	}
	return a
}

// display renders path relative to the root deck's directory when possible.
func (s *loadSession) display(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

// resolvePath resolves target relative to the directory of the declaring document.
func resolvePath(from, target string) string {
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	return filepath.Join(filepath.Dir(from), filepath.FromSlash(target))
}

// flatten lists cards depth-first (a card before its embeds), each path once.
func flatten(cards []*Card) []*Card {
	var (
		out  []*Card
		seen = map[string]bool{}
		walk func([]*Card)
	)
	walk = func(cs []*Card) {
		for _, c := range cs {
			if seen[c.Path] {
				continue
			}
			seen[c.Path] = true
			out = append(out, c)
			walk(c.Embeds)
		}
	}
	walk(cards)
	return out
}
