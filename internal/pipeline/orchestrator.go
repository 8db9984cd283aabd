package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/storyforge/api/internal/model"
)

// StoryStore persists the story aggregate. The orchestrator saves after
// every phase and after every generated page so pollers can stream partial
// results.
type StoryStore interface {
	SaveStory(ctx context.Context, story *model.Story) error
}

// ProgressFunc receives phase transitions while a job runs. Implementations
// fan the updates out to the job document and websocket subscribers.
type ProgressFunc func(phase model.Phase, progress float64, message string)

// Orchestrator drives one generation job through its phases: safety gate,
// planning, character references, sequential page generation with
// illustrations, validation, bounded regeneration, one revalidation and a
// cover. Safety blocks abort immediately; everything else degrades or
// bubbles up as a retryable job error.
type Orchestrator struct {
	safety      *SafetyGate
	planner     *Planner
	refs        *ReferenceGenerator
	pages       *PageGenerator
	illustrator *Illustrator
	validator   *Validator
	critics     *Ensemble
	store       StoryStore
	log         zerolog.Logger
}

func NewOrchestrator(
	safety *SafetyGate,
	planner *Planner,
	refs *ReferenceGenerator,
	pages *PageGenerator,
	illustrator *Illustrator,
	validator *Validator,
	critics *Ensemble,
	store StoryStore,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		safety:      safety,
		planner:     planner,
		refs:        refs,
		pages:       pages,
		illustrator: illustrator,
		validator:   validator,
		critics:     critics,
		store:       store,
		log:         log.With().Str("component", "orchestrator").Logger(),
	}
}

// Run executes the full pipeline for one job and returns the completed
// story. A non-nil error means the job failed; the caller decides whether
// it is retried (safety blocks never are).
func (o *Orchestrator) Run(ctx context.Context, jobID string, req *model.GenerationRequest, progress ProgressFunc) (*model.Story, error) {
	report := func(phase model.Phase, frac float64, msg string) {
		if progress != nil {
			progress(phase, frac, msg)
		}
	}

	now := time.Now()
	story := &model.Story{
		ID:        jobID,
		Request:   req,
		Status:    model.StatusGenerating,
		CreatedAt: now,
		UpdatedAt: now,
	}

	report(model.PhasePlanning, 0.05, "Checking the topic")
	if err := o.safety.Check(ctx, req); err != nil {
		return nil, err
	}

	meta, err := o.planner.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	story.Metadata = meta
	o.save(ctx, story)
	report(model.PhasePlanning, 0.15, fmt.Sprintf("Planned %q", meta.Title))

	report(model.PhaseCharacterRefs, 0.18, "Drawing character references")
	refs := o.refs.Generate(ctx, jobID, meta)
	refData := make([][]byte, 0, len(refs))
	for _, r := range refs {
		meta.ReferenceImageURLs = append(meta.ReferenceImageURLs, r.URL)
		refData = append(refData, r.Data)
	}
	o.save(ctx, story)
	report(model.PhaseCharacterRefs, 0.25, fmt.Sprintf("Prepared %d character references", len(refs)))

	for n := 1; n <= req.PageCount; n++ {
		page, err := o.pages.Generate(ctx, req, meta, n)
		if err != nil {
			return nil, err
		}

		if err := o.illustratePage(ctx, jobID, req, meta, page, refData); err != nil {
			return nil, err
		}

		story.Pages = append(story.Pages, page)
		o.save(ctx, story)
		report(model.PhasePageGeneration,
			0.25+0.45*float64(n)/float64(req.PageCount),
			fmt.Sprintf("Generated page %d of %d", n, req.PageCount))
	}

	report(model.PhaseValidation, 0.75, "Reviewing the draft")
	vreport := o.validate(ctx, story)

	if vreport != nil {
		candidates := RegenerationCandidates(vreport.Issues, story.Pages, o.pages.RetryLimit())
		if len(candidates) > 0 {
			report(model.PhaseRegeneration, 0.80, fmt.Sprintf("Reworking %d flagged pages", len(candidates)))
			if err := o.regenerate(ctx, jobID, story, candidates, refData); err != nil {
				return nil, err
			}
			o.save(ctx, story)

			// One revalidation, then the story ships regardless. Remaining
			// issues are accepted rather than looping forever.
			report(model.PhaseRevalidation, 0.85, "Re-reviewing reworked pages")
			vreport = o.validate(ctx, story)
		}
	}
	markValidated(story.Pages, vreport)
	o.save(ctx, story)

	report(model.PhaseCoverGeneration, 0.95, "Drawing the cover")
	if err := o.generateCover(ctx, jobID, story, refData); err != nil {
		return nil, err
	}

	story.Status = model.StatusComplete
	story.UpdatedAt = time.Now()
	if err := o.store.SaveStory(ctx, story); err != nil {
		return nil, fmt.Errorf("failed to persist completed story: %w", err)
	}
	report(model.PhaseComplete, 1.0, "Story complete")

	return story, nil
}

// illustratePage renders the page image and, for comics, runs the critic
// ensemble with at most one corrective retake.
func (o *Orchestrator) illustratePage(ctx context.Context, jobID string, req *model.GenerationRequest, meta *model.StoryMetadata, page *model.Page, refs [][]byte) error {
	prompt := IllustrationPromptForPage(req, meta, page)
	aspect := model.AspectSquare
	if req.Format == model.FormatComic {
		aspect = model.AspectPortrait
	}

	url, err := o.illustrator.Illustrate(ctx, jobID, pageFilename(page.Number), prompt, aspect, refs)
	if err != nil {
		return err
	}
	page.ImageURL = url

	if req.Format != model.FormatComic || o.critics == nil || url == "" {
		return nil
	}

	review := o.critics.ReviewPage(ctx, url, PageContext{
		Title:       meta.Title,
		Age:         req.Age,
		StyleGuide:  meta.StyleGuide,
		PageNumber:  page.Number,
		PageOutline: meta.PageOutlines[page.Number-1],
	})
	if review.Passes {
		return nil
	}
	if page.GenerationAttempts >= o.pages.RetryLimit() {
		o.log.Warn().Int("page", page.Number).Float64("score", review.WeightedScore).
			Msg("critics rejected the page but its attempt budget is spent, keeping it")
		return nil
	}

	o.log.Info().Int("page", page.Number).Float64("score", review.WeightedScore).
		Msg("critics rejected the page, retaking the illustration")
	page.GenerationAttempts++
	retake, err := o.illustrator.Illustrate(ctx, jobID, pageFilename(page.Number),
		prompt+"\n"+review.RevisionPrompt, aspect, refs)
	if err != nil {
		return err
	}
	if retake != "" {
		page.ImageURL = retake
	}
	return nil
}

// validate runs the whole-story review. A failed review call degrades to
// accepting the draft unreviewed rather than burning a whole-job retry on a
// transient provider error.
func (o *Orchestrator) validate(ctx context.Context, story *model.Story) *model.ValidationReport {
	report, err := o.validator.Validate(ctx, story)
	if err != nil {
		o.log.Warn().Err(err).Str("job_id", story.ID).Msg("validation unavailable, accepting the draft")
		return nil
	}
	return report
}

// regenerate reworks each flagged page once, issues for the same page
// merged into a single corrective prompt.
func (o *Orchestrator) regenerate(ctx context.Context, jobID string, story *model.Story, candidates []RegenerationCandidate, refs [][]byte) error {
	byPage := make(map[int][]string)
	var order []int
	for _, c := range candidates {
		if _, seen := byPage[c.Page]; !seen {
			order = append(order, c.Page)
		}
		byPage[c.Page] = append(byPage[c.Page], c.Description)
	}

	pagesByNumber := make(map[int]int, len(story.Pages))
	for i, p := range story.Pages {
		pagesByNumber[p.Number] = i
	}

	for _, num := range order {
		idx, ok := pagesByNumber[num]
		if !ok {
			continue
		}

		issue := strings.Join(byPage[num], " ")
		page, err := o.pages.Regenerate(ctx, story.Request, story.Metadata, story.Pages[idx], issue)
		if err != nil {
			if IsSafetyBlocked(err) {
				return err
			}
			o.log.Warn().Err(err).Int("page", num).Msg("regeneration failed, keeping the original page")
			continue
		}

		if err := o.illustratePage(ctx, jobID, story.Request, story.Metadata, page, refs); err != nil {
			return err
		}
		story.Pages[idx] = page
	}

	return nil
}

// generateCover renders the title cover. Like page images it degrades to a
// missing cover on exhausted retries; only a safety block is fatal.
func (o *Orchestrator) generateCover(ctx context.Context, jobID string, story *model.Story, refData [][]byte) error {
	meta := story.Metadata

	var protagonists []string
	for _, c := range meta.Characters {
		if c.Role == model.RoleProtagonist {
			protagonists = append(protagonists, fmt.Sprintf("%s (%s)", c.Name, c.Physical))
		}
	}

	prompt := fmt.Sprintf("Book cover for %q, featuring %s. The title text %q rendered prominently. Style: %s.",
		meta.Title, strings.Join(protagonists, " and "), meta.Title, meta.StyleGuide)

	url, err := o.illustrator.Illustrate(ctx, jobID, "cover.png", prompt, model.AspectPortrait, refData)
	if err != nil {
		return err
	}
	story.CoverURL = url
	return nil
}

// save persists intermediate state. Failures are logged and tolerated; the
// final save in Run is the one that must succeed.
func (o *Orchestrator) save(ctx context.Context, story *model.Story) {
	story.UpdatedAt = time.Now()
	if err := o.store.SaveStory(ctx, story); err != nil {
		o.log.Error().Err(err).Str("job_id", story.ID).Msg("failed to persist story snapshot")
	}
}

// markValidated flags pages the final report raised no moderate or critical
// issue against. A nil report leaves every page unvalidated.
func markValidated(pages []*model.Page, report *model.ValidationReport) {
	if report == nil {
		return
	}

	flagged := make(map[int]bool)
	for _, issue := range report.Issues {
		if issue.Severity == model.SeverityModerate || issue.Severity == model.SeverityCritical {
			flagged[issue.Page] = true
		}
	}
	for _, p := range pages {
		p.Validated = !flagged[p.Number]
	}
}

func pageFilename(n int) string {
	return fmt.Sprintf("page-%02d.png", n)
}
