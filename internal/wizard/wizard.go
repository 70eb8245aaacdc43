// Package wizard drives the three-step try-on flow: pick a person, pick a
// clothing item, view the result.
package wizard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"banana-tryon/internal/imagecodec"
	"banana-tryon/internal/library"
)

type Step int

const (
	StepSelectPerson Step = 1
	StepSelectCloth  Step = 2
	StepResult       Step = 3
)

func (s Step) String() string {
	switch s {
	case StepSelectPerson:
		return "select_person"
	case StepSelectCloth:
		return "select_cloth"
	case StepResult:
		return "result"
	default:
		return "unknown"
	}
}

type Generator interface {
	GenerateClothingImage(ctx context.Context, prompt string) (string, error)
	GenerateTryOnImage(ctx context.Context, personImage, clothImage string) (string, error)
}

type Library interface {
	Persons() []library.ImageAsset
	Cloths() []library.ImageAsset
	FindPerson(id string) (library.ImageAsset, bool)
	FindCloth(id string) (library.ImageAsset, bool)
	AddPerson(ctx context.Context, asset library.ImageAsset) library.ImageAsset
	AddCloth(ctx context.Context, asset library.ImageAsset) library.ImageAsset
	AddHistory(ctx context.Context, item library.HistoryItem) library.HistoryItem
	History() []library.HistoryItem
}

type RemoteEncoder interface {
	EncodeFromRemote(ctx context.Context, url string) (string, error)
}

type Options struct {
	Generator Generator
	Library   Library
	Remote    RemoteEncoder

	// Preset assets are listed after the library entries and never persisted.
	PresetPersons []library.ImageAsset
	PresetCloths  []library.ImageAsset

	Now    func() time.Time
	Logger *slog.Logger
}

// State is a snapshot for rendering.
type State struct {
	Step             Step   `json:"step"`
	SelectedPersonID string `json:"selectedPersonId,omitempty"`
	SelectedPerson   string `json:"selectedPerson,omitempty"`
	SelectedClothID  string `json:"selectedClothId,omitempty"`
	SelectedCloth    string `json:"selectedCloth,omitempty"`
	ResultImage      string `json:"resultImage,omitempty"`
	Message          string `json:"message,omitempty"`
	TryOnBusy        bool   `json:"tryOnBusy"`
	ClothBusy        bool   `json:"clothBusy"`
}

type Controller struct {
	gen     Generator
	lib     Library
	remote  RemoteEncoder
	presetP []library.ImageAsset
	presetC []library.ImageAsset
	now     func() time.Time
	logger  *slog.Logger

	tryOnBusy atomic.Bool
	clothBusy atomic.Bool

	// mu guards st and is never held across I/O.
	mu sync.Mutex
	st State
}

func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	lib := opts.Library
	if lib == nil {
		lib = library.New(library.Options{Logger: logger})
	}
	remote := opts.Remote
	if remote == nil {
		remote = imagecodec.NewFetcher(nil)
	}

	return &Controller{
		gen:     opts.Generator,
		lib:     lib,
		remote:  remote,
		presetP: append([]library.ImageAsset(nil), opts.PresetPersons...),
		presetC: append([]library.ImageAsset(nil), opts.PresetCloths...),
		now:     now,
		logger:  logger,
		st:      State{Step: StepSelectPerson},
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	st := c.st
	c.mu.Unlock()

	st.TryOnBusy = c.tryOnBusy.Load()
	st.ClothBusy = c.clothBusy.Load()
	return st
}

// Persons lists the person library followed by the presets.
func (c *Controller) Persons() []library.ImageAsset {
	return append(c.lib.Persons(), c.presetP...)
}

func (c *Controller) Cloths() []library.ImageAsset {
	return append(c.lib.Cloths(), c.presetC...)
}

func (c *Controller) History() []library.HistoryItem {
	return c.lib.History()
}

// Next advances the wizard. From SelectCloth it runs the try-on.
func (c *Controller) Next(ctx context.Context) error {
	c.mu.Lock()
	switch c.st.Step {
	case StepSelectPerson:
		if c.st.SelectedPerson == "" {
			c.st.Message = MsgNeedPerson
			c.mu.Unlock()
			return &ValidationError{Message: MsgNeedPerson}
		}
		c.st.Step = StepSelectCloth
		c.st.Message = ""
		c.mu.Unlock()
		return nil
	case StepSelectCloth:
		if c.st.SelectedCloth == "" {
			c.st.Message = MsgNeedCloth
			c.mu.Unlock()
			return &ValidationError{Message: MsgNeedCloth}
		}
		c.mu.Unlock()
		return c.TryOn(ctx)
	default:
		c.mu.Unlock()
		return ErrInvalidTransition
	}
}

// Back steps from SelectCloth to SelectPerson. From Result it resets.
func (c *Controller) Back() {
	c.mu.Lock()
	step := c.st.Step
	if step == StepSelectCloth {
		c.st.Step = StepSelectPerson
	}
	c.mu.Unlock()

	if step == StepResult {
		c.Reset()
	}
}

// Reset returns to SelectPerson. Selections are kept.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.Step = StepSelectPerson
	c.st.Message = ""
}

func (c *Controller) DismissMessage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.Message = ""
}

// TryOn sends the current selections to the generator. It is only valid at
// SelectCloth. On success the result is recorded in history and the wizard
// moves to Result; on failure it stays at SelectCloth and the message slot
// explains why.
func (c *Controller) TryOn(ctx context.Context) error {
	c.mu.Lock()
	step := c.st.Step
	person, cloth := c.st.SelectedPerson, c.st.SelectedCloth
	c.mu.Unlock()

	if step != StepSelectCloth {
		return ErrInvalidTransition
	}
	if person == "" || cloth == "" {
		c.setMessage(MsgNeedBoth)
		return &ValidationError{Message: MsgNeedBoth}
	}
	if !c.tryOnBusy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer c.tryOnBusy.Store(false)

	c.setMessage("")
	start := c.now()
	result, err := c.gen.GenerateTryOnImage(ctx, person, cloth)
	if err != nil {
		c.logger.Error("try-on generation failed", "err", err)
		c.setMessage(MsgTryOnFailed)
		return err
	}

	item := c.lib.AddHistory(ctx, library.NewHistoryItem(person, cloth, result, c.now()))
	c.logger.Info("try-on generated", "history_id", item.ID, "dur_ms", time.Since(start).Milliseconds())

	c.mu.Lock()
	c.st.ResultImage = result
	c.st.Step = StepResult
	c.st.Message = ""
	c.mu.Unlock()
	return nil
}

func (c *Controller) SelectPerson(ctx context.Context, id string) error {
	asset, ok := c.lib.FindPerson(id)
	if !ok {
		asset, ok = findPreset(c.presetP, id)
	}
	return c.selectAsset(ctx, asset, ok, func(st *State, url string) {
		st.SelectedPersonID = asset.ID
		st.SelectedPerson = url
	})
}

func (c *Controller) SelectCloth(ctx context.Context, id string) error {
	asset, ok := c.lib.FindCloth(id)
	if !ok {
		asset, ok = findPreset(c.presetC, id)
	}
	return c.selectAsset(ctx, asset, ok, func(st *State, url string) {
		st.SelectedClothID = asset.ID
		st.SelectedCloth = url
	})
}

func (c *Controller) selectAsset(ctx context.Context, asset library.ImageAsset, found bool, assign func(*State, string)) error {
	if !found {
		c.setMessage(MsgUnknownAsset)
		return &ValidationError{Message: MsgUnknownAsset}
	}

	url := asset.URL
	if !imagecodec.IsEmbedded(url) {
		encoded, err := c.remote.EncodeFromRemote(ctx, url)
		if err != nil {
			c.logger.Warn("remote asset fetch failed", "id", asset.ID, "err", err)
			c.setMessage(MsgFetchFailed)
			return err
		}
		url = encoded
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	assign(&c.st, url)
	c.st.Message = ""
	return nil
}

// UploadPerson encodes r, adds it to the person library and selects it.
func (c *Controller) UploadPerson(ctx context.Context, r io.Reader, mimeHint string) (library.ImageAsset, error) {
	url, err := c.encodeUpload(r, mimeHint)
	if err != nil {
		return library.ImageAsset{}, err
	}

	asset := c.lib.AddPerson(ctx, library.NewAsset(library.PrefixPerson, url, false, c.now()))
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.SelectedPersonID = asset.ID
	c.st.SelectedPerson = asset.URL
	c.st.Message = ""
	return asset, nil
}

func (c *Controller) UploadCloth(ctx context.Context, r io.Reader, mimeHint string) (library.ImageAsset, error) {
	url, err := c.encodeUpload(r, mimeHint)
	if err != nil {
		return library.ImageAsset{}, err
	}

	asset := c.lib.AddCloth(ctx, library.NewAsset(library.PrefixCloth, url, false, c.now()))
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.SelectedClothID = asset.ID
	c.st.SelectedCloth = asset.URL
	c.st.Message = ""
	return asset, nil
}

func (c *Controller) encodeUpload(r io.Reader, mimeHint string) (string, error) {
	url, err := imagecodec.EncodeReader(r, mimeHint)
	if err != nil {
		c.logger.Warn("upload read failed", "err", err)
		c.setMessage(MsgReadFailed)
		return "", err
	}
	return url, nil
}

// GenerateCloth creates a clothing image from a text description, adds it to
// the clothing library and selects it. A blank prompt is ignored and returns a
// zero asset.
func (c *Controller) GenerateCloth(ctx context.Context, prompt string) (library.ImageAsset, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return library.ImageAsset{}, nil
	}
	if !c.clothBusy.CompareAndSwap(false, true) {
		return library.ImageAsset{}, ErrBusy
	}
	defer c.clothBusy.Store(false)

	c.setMessage("")
	url, err := c.gen.GenerateClothingImage(ctx, prompt)
	if err != nil {
		c.logger.Error("clothing generation failed", "err", err)
		c.setMessage(MsgClothFailed)
		return library.ImageAsset{}, err
	}

	asset := c.lib.AddCloth(ctx, library.NewAsset(library.PrefixGeneratedCloth, url, true, c.now()))
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.SelectedClothID = asset.ID
	c.st.SelectedCloth = asset.URL
	return asset, nil
}

// Result returns the current result image decoded for download.
func (c *Controller) Result() (mimeType string, data []byte, err error) {
	c.mu.Lock()
	result := c.st.ResultImage
	c.mu.Unlock()

	if result == "" {
		return "", nil, &ValidationError{Message: MsgNothingToDownload}
	}
	return imagecodec.DecodeBytes(result)
}

func (c *Controller) setMessage(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.Message = msg
}

func findPreset(list []library.ImageAsset, id string) (library.ImageAsset, bool) {
	for _, a := range list {
		if a.ID == id {
			return a, true
		}
	}
	return library.ImageAsset{}, false
}

// IsValidation reports whether err is a precondition failure rather than an
// I/O or generation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
