package csvimport

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/odyssey-erp/stockroom/internal/catalog"
)

// State names a wizard step.
type State string

const (
	StateIdle             State = "idle"
	StateCategorySelect   State = "category_select"
	StateQuantityStrategy State = "quantity_strategy"
	StateMarkupChoice     State = "markup_choice"
	StateMarkupEntry      State = "markup_entry"
	StateSubmitting       State = "submitting"
	StateResult           State = "result"
	StateFailed           State = "failed"
)

// NewCategoryValue is the selection value that asks for a new category.
const NewCategoryValue = "new"

// CategoryChoice is either an existing category id or a deferred creation.
type CategoryChoice struct {
	ID      int64  `json:"id,omitempty"`
	New     bool   `json:"new,omitempty"`
	NewName string `json:"newName,omitempty"`
}

// ParseCategoryChoice reads a selection value ("new" or a numeric id).
func ParseCategoryChoice(value, newName string) (CategoryChoice, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return CategoryChoice{}, ErrCategoryRequired
	}
	if strings.EqualFold(v, NewCategoryValue) {
		return CategoryChoice{New: true, NewName: strings.TrimSpace(newName)}, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return CategoryChoice{}, fmt.Errorf("%w: %q", ErrUnknownCategory, value)
	}
	return CategoryChoice{ID: id}, nil
}

// MarkupStep describes the candidate currently shown in markup entry.
type MarkupStep struct {
	Index     int       `json:"index"`
	Total     int       `json:"total"`
	Candidate Candidate `json:"candidate"`
	Input     string    `json:"input"`
}

// Wizard is the import state machine. Each method is one operator action and
// fails with ErrInvalidTransition when the action does not apply to the
// current state. A Wizard is not safe for concurrent use.
type Wizard struct {
	state       State
	candidates  []Candidate
	rejections  []Rejection
	categories  []catalog.FlatCategory
	category    CategoryChoice
	planned     Inventory
	conflicts   []Conflict
	strategy    QuantityStrategy
	markupIndex int
	markupInput string
	summary     *Summary
	failure     string
}

// NewWizard returns an idle wizard.
func NewWizard() *Wizard {
	w := &Wizard{}
	w.Reset()
	return w
}

// Reset discards the session and returns to idle.
func (w *Wizard) Reset() {
	*w = Wizard{state: StateIdle, strategy: StrategyAdd}
}

func (w *Wizard) State() State                       { return w.state }
func (w *Wizard) Candidates() []Candidate            { return cloneCandidates(w.candidates) }
func (w *Wizard) Rejections() []Rejection            { return append([]Rejection(nil), w.rejections...) }
func (w *Wizard) Categories() []catalog.FlatCategory { return w.categories }
func (w *Wizard) Category() CategoryChoice           { return w.category }
func (w *Wizard) Conflicts() []Conflict              { return w.conflicts }
func (w *Wizard) Strategy() QuantityStrategy         { return w.strategy }
func (w *Wizard) PlannedInventory() Inventory        { return w.planned }
func (w *Wizard) Summary() *Summary                  { return w.summary }
func (w *Wizard) Failure() string                    { return w.failure }

// MarkupStep reports the current entry step; ok is false outside markup entry.
func (w *Wizard) MarkupStep() (MarkupStep, bool) {
	if w.state != StateMarkupEntry {
		return MarkupStep{}, false
	}
	return MarkupStep{
		Index:     w.markupIndex,
		Total:     len(w.candidates),
		Candidate: w.candidates[w.markupIndex],
		Input:     w.markupInput,
	}, true
}

func (w *Wizard) expect(op string, allowed ...State) error {
	for _, s := range allowed {
		if w.state == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, w.state)
}

// Load starts a session with freshly normalized rows. Loading a new file
// after a result or failure starts over.
func (w *Wizard) Load(candidates []Candidate, rejections []Rejection, categories []catalog.FlatCategory) error {
	if err := w.expect("load", StateIdle, StateResult, StateFailed); err != nil {
		return err
	}
	if len(candidates) == 0 {
		return ErrNoValidProducts
	}
	w.Reset()
	w.candidates = cloneCandidates(candidates)
	w.rejections = append([]Rejection(nil), rejections...)
	w.categories = categories
	w.state = StateCategorySelect
	return nil
}

// ValidateCategory checks a choice against the loaded category list.
func (w *Wizard) ValidateCategory(choice CategoryChoice) error {
	if choice.New {
		if strings.TrimSpace(choice.NewName) == "" {
			return ErrCategoryNameRequired
		}
		return nil
	}
	if choice.ID == 0 {
		return ErrCategoryRequired
	}
	if _, ok := catalog.FindCategory(w.categories, choice.ID); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCategory, choice.ID)
	}
	return nil
}

// ConfirmCategory records the category and plans reconciliation against the
// inventory snapshot. The strategy question is only asked when a conflict exists.
func (w *Wizard) ConfirmCategory(choice CategoryChoice, inv Inventory) error {
	if err := w.expect("confirm category", StateCategorySelect); err != nil {
		return err
	}
	if err := w.ValidateCategory(choice); err != nil {
		return err
	}
	if inv == nil {
		inv = Inventory{}
	}
	choice.NewName = strings.TrimSpace(choice.NewName)
	w.category = choice
	w.planned = inv
	w.conflicts = QuantityConflicts(w.candidates, inv)
	w.strategy = StrategyAdd
	if len(w.conflicts) > 0 {
		w.state = StateQuantityStrategy
	} else {
		w.state = StateMarkupChoice
	}
	return nil
}

// ChooseStrategy answers the quantity question.
func (w *Wizard) ChooseStrategy(strategy QuantityStrategy) error {
	if err := w.expect("choose strategy", StateQuantityStrategy); err != nil {
		return err
	}
	if strategy != StrategyAdd && strategy != StrategyReplace {
		return fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}
	w.strategy = strategy
	w.state = StateMarkupChoice
	return nil
}

// SkipMarkup applies the default markup to every candidate, overwriting any
// individual values entered earlier, and moves to submission.
func (w *Wizard) SkipMarkup() error {
	if err := w.expect("skip markup", StateMarkupChoice); err != nil {
		return err
	}
	for i := range w.candidates {
		w.candidates[i].ApplyMarkup(DefaultMarkup)
	}
	w.state = StateSubmitting
	return nil
}

// BeginMarkupEntry opens per-item entry at the first candidate.
func (w *Wizard) BeginMarkupEntry() error {
	if err := w.expect("begin markup entry", StateMarkupChoice); err != nil {
		return err
	}
	w.markupIndex = 0
	w.markupInput = formatPercent(DefaultMarkup)
	w.state = StateMarkupEntry
	return nil
}

// SetMarkupInput stores the free-text markup for the current candidate.
func (w *Wizard) SetMarkupInput(input string) error {
	if err := w.expect("set markup", StateMarkupEntry); err != nil {
		return err
	}
	w.markupInput = input
	return nil
}

// NextMarkup commits the current input and advances. On the last candidate
// it moves to submission instead.
func (w *Wizard) NextMarkup() error {
	if err := w.expect("next markup", StateMarkupEntry); err != nil {
		return err
	}
	w.candidates[w.markupIndex].ApplyMarkup(parseMarkup(w.markupInput))
	if w.markupIndex == len(w.candidates)-1 {
		w.state = StateSubmitting
		return nil
	}
	w.markupIndex++
	w.markupInput = formatPercent(w.candidates[w.markupIndex].MarkupPercentage)
	return nil
}

// BackMarkup steps to the previous candidate without committing the input.
func (w *Wizard) BackMarkup() error {
	if err := w.expect("back markup", StateMarkupEntry); err != nil {
		return err
	}
	if w.markupIndex == 0 {
		return fmt.Errorf("%w: back markup at first item", ErrInvalidTransition)
	}
	w.markupIndex--
	w.markupInput = formatPercent(w.candidates[w.markupIndex].MarkupPercentage)
	return nil
}

// CancelMarkupEntry returns to the markup choice. Committed values stay.
func (w *Wizard) CancelMarkupEntry() error {
	if err := w.expect("cancel markup entry", StateMarkupEntry); err != nil {
		return err
	}
	w.markupIndex = 0
	w.markupInput = ""
	w.state = StateMarkupChoice
	return nil
}

// Cancel backs out of the current modal. Markup entry falls back to the
// markup choice; every earlier step aborts the import.
func (w *Wizard) Cancel() error {
	switch w.state {
	case StateMarkupEntry:
		return w.CancelMarkupEntry()
	case StateCategorySelect, StateQuantityStrategy, StateMarkupChoice:
		w.Reset()
		return nil
	default:
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, w.state)
	}
}

// Complete records a successful submission and drops the candidates.
func (w *Wizard) Complete(summary Summary) error {
	if err := w.expect("complete", StateSubmitting); err != nil {
		return err
	}
	w.candidates = nil
	w.planned = nil
	w.conflicts = nil
	w.categories = nil
	w.summary = &summary
	w.state = StateResult
	return nil
}

// Fail records a terminal submission error. Nothing is rolled back.
func (w *Wizard) Fail(message string) error {
	if err := w.expect("fail", StateSubmitting); err != nil {
		return err
	}
	w.failure = message
	w.state = StateFailed
	return nil
}

// Close dismisses the result or failure and returns to idle.
func (w *Wizard) Close() error {
	if err := w.expect("close", StateResult, StateFailed); err != nil {
		return err
	}
	w.Reset()
	return nil
}

func parseMarkup(input string) float64 {
	v, ok := parseLeadingFloat(input)
	if !ok {
		return 0
	}
	return v
}

type wizardJSON struct {
	State       State                  `json:"state"`
	Candidates  []Candidate            `json:"candidates,omitempty"`
	Rejections  []Rejection            `json:"rejections,omitempty"`
	Categories  []catalog.FlatCategory `json:"categories,omitempty"`
	Category    CategoryChoice         `json:"category"`
	Planned     []catalog.Product      `json:"planned,omitempty"`
	Conflicts   []Conflict             `json:"conflicts,omitempty"`
	Strategy    QuantityStrategy       `json:"strategy"`
	MarkupIndex int                    `json:"markupIndex"`
	MarkupInput string                 `json:"markupInput,omitempty"`
	Summary     *Summary               `json:"summary,omitempty"`
	Failure     string                 `json:"failure,omitempty"`
}

// MarshalJSON serialises the full session so it can be parked in a store.
func (w *Wizard) MarshalJSON() ([]byte, error) {
	var planned []catalog.Product
	for _, p := range w.planned {
		planned = append(planned, p)
	}
	return json.Marshal(wizardJSON{
		State:       w.state,
		Candidates:  w.candidates,
		Rejections:  w.rejections,
		Categories:  w.categories,
		Category:    w.category,
		Planned:     planned,
		Conflicts:   w.conflicts,
		Strategy:    w.strategy,
		MarkupIndex: w.markupIndex,
		MarkupInput: w.markupInput,
		Summary:     w.summary,
		Failure:     w.failure,
	})
}

// UnmarshalJSON restores a session written by MarshalJSON.
func (w *Wizard) UnmarshalJSON(data []byte) error {
	var raw wizardJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.State {
	case StateIdle, StateCategorySelect, StateQuantityStrategy, StateMarkupChoice,
		StateMarkupEntry, StateSubmitting, StateResult, StateFailed:
	default:
		return fmt.Errorf("csvimport: unknown wizard state %q", raw.State)
	}
	if raw.State == StateMarkupEntry && (raw.MarkupIndex < 0 || raw.MarkupIndex >= len(raw.Candidates)) {
		return fmt.Errorf("csvimport: markup index %d out of range", raw.MarkupIndex)
	}
	var planned Inventory
	if raw.Planned != nil {
		planned = NewInventory(raw.Planned)
	}
	*w = Wizard{
		state:       raw.State,
		candidates:  raw.Candidates,
		rejections:  raw.Rejections,
		categories:  raw.Categories,
		category:    raw.Category,
		planned:     planned,
		conflicts:   raw.Conflicts,
		strategy:    raw.Strategy,
		markupIndex: raw.MarkupIndex,
		markupInput: raw.MarkupInput,
		summary:     raw.Summary,
		failure:     raw.Failure,
	}
	if w.strategy == "" {
		w.strategy = StrategyAdd
	}
	return nil
}
